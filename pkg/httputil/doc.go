// Package httputil provides JSON response writers, request parsing helpers and
// the generic HTTP middleware shared by the Lightbox API.
//
// Every error body has the shape {"error": "message"}; handlers return after
// writing one:
//
//	var req createAlbumRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
package httputil
