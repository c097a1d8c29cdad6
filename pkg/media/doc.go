// Package media turns uploaded originals into the variants the gallery serves.
//
// Stills are decoded (JPEG, PNG, GIF, WebP) and scaled with Catmull-Rom into
// thumb, medium and large JPEGs; variants are rendered concurrently and never
// upscaled. Videos are probed with ffprobe, transcoded to an H.264/AAC MP4 with
// ffmpeg, and a poster frame is rendered into the same still variants.
//
// The Pipeline runs jobs on an async.WorkerPool:
//
//	pipeline := media.NewPipeline(ctx, cfg, gallerySvc, blobs, images, videos,
//		media.WithNotifier(notifier), media.WithMetrics(metrics))
//	defer pipeline.Shutdown(time.Minute)
//
//	if err := pipeline.Enqueue(photo.ID); err != nil {
//		// the photo stays pending; Requeue picks it up later
//	}
package media
