package bus

// Topic names, one per pipeline stage.
const (
	TopicLibraryScan    = "library.scan"
	TopicCollectionScan = "collection.scan"
	TopicThumbnail      = "thumbnail.generate"
	TopicCache          = "cache.generate"
	TopicBulkOperation  = "bulk.operation"
	TopicImageProcess   = "image.process"
)

// Topics lists every recognized topic, used at startup to pre-create buckets.
var Topics = []string{
	TopicLibraryScan,
	TopicCollectionScan,
	TopicThumbnail,
	TopicCache,
	TopicBulkOperation,
	TopicImageProcess,
}
