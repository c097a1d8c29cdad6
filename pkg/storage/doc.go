// Package storage holds the blob stores used for originals, rendered variants
// and branding assets, plus the Redis JSON cache used in front of the SQL stores.
//
// Two BlobStore backends exist:
//
//   - FileSystemBlobStore keeps objects under a root directory, writing each
//     object atomically and recording its content type in a sidecar file.
//   - S3BlobStore talks to AWS S3 or any S3-compatible service (MinIO, R2)
//     through aws-sdk-go-v2, emitting an OpenTelemetry span per call.
//
// Keys are slash separated and never start with a slash:
//
//	originals/<uuid>/<filename>
//	variants/<photo-id>/<variant>.<ext>
//	branding/<asset>-<uuid>.<ext>
package storage
