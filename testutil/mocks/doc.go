// Package mocks provides test doubles shared across package tests: a
// scripted completion client and a scripted browser driver.
package mocks
