// Package importer uploads files dropped into an inbox directory.
//
// The importer watches the inbox with fsnotify and waits until a file's size
// and modification time have been stable for the settle delay, so copies in
// progress are not read early. Each file is stored through media.Uploader
// into the configured album, then moved to processed/. Files the gallery
// rejects move to failed/ with a .error file holding the reason.
//
//	im, err := importer.New(importer.Config{
//		InboxDir:    "/srv/lightbox/inbox",
//		AlbumID:     3,
//		SettleDelay: 2 * time.Second,
//	}, uploader)
//	if err != nil {
//		return err
//	}
//	return im.Run(ctx)
package importer
