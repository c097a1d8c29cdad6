// Package branding stores the site-wide look of the gallery: title, tagline,
// colors, footer, contact address, default locale, logo and favicon.
package branding
