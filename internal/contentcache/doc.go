// Package contentcache keeps downloaded playlist media on local disk so a
// display keeps playing when the network drops.
//
// Entries are tracked in .manifest.json next to the media files. The total
// size is bounded; when a download pushes it over budget the least recently
// accessed entries are evicted. Download never fails outward: when caching
// is not possible the caller gets the original URL back and plays from the
// network.
package contentcache
