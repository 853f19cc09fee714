package models

import "time"

const (
	ContentTypeText    ContentType = "text"
	ContentTypeFile    ContentType = "file"
	ContentTypeWebsite ContentType = "website"
	ContentTypeYouTube ContentType = "youtube"
)

const (
	RetrainNone    RetrainFrequency = "none"
	RetrainDaily   RetrainFrequency = "daily"
	RetrainWeekly  RetrainFrequency = "weekly"
	RetrainMonthly RetrainFrequency = "monthly"
)

// minimum elapsed time before a bot is due again, slightly under the nominal period
// so an hourly scan landing a few minutes early still fires
var retrainIntervals = map[RetrainFrequency]time.Duration{
	RetrainDaily:   23 * time.Hour,
	RetrainWeekly:  167 * time.Hour,
	RetrainMonthly: 719 * time.Hour,
}

// metadata keys written on chunks and retrained documents
const (
	MetaChunkIndex       = "chunkIndex"
	MetaTotalChunks      = "totalChunks"
	MetaScrapedAt        = "scrapedAt"
	MetaWordCount        = "wordCount"
	MetaURL              = "url"
	MetaScheduledRetrain = "scheduledRetrain"
	MetaVideoID          = "videoId"
	MetaFilename         = "filename"
)

const (
	DefaultInstructions = "You are a helpful assistant."
	ContextHeader       = "\n\nRelevant information from the knowledge base:\n\n"
	ContextFooter       = "\n\nUse this information to answer the user's question. If the information is not in the knowledge base, say so politely."
	NoContextNotice     = "\n\nThe knowledge base has no information relevant to this question. Tell the user politely that you could not find it instead of guessing."
	ContextSeparator    = "\n\n"
	UntitledPage        = "Untitled Page"
)
