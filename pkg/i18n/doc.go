// Package i18n negotiates the interface language and maintains the locale
// files consumed by the admin and gallery front ends.
package i18n
