// Package gallery manages albums and the photos and videos inside them.
//
// Albums carry a URL slug, a visibility and a manual sort order. Photos
// belong to exactly one album and keep a dense 0..n-1 position within it;
// deleting or moving a photo closes the gap it leaves.
//
// A photo starts out pending. The media pipeline moves it through
// processing to ready (with its rendered variants) or failed. Viewers only
// see ready photos.
//
// The Service keeps blobs and the optional Redis cache consistent with the
// database: every mutation invalidates cached album views and listings, and
// deletes remove the underlying objects after the rows are gone.
package gallery
