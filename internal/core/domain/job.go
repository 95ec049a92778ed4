package domain

type Category string

const (
	// Default compute categories. The host application may define more
	// through configuration; nothing below is a closed set.
	CategoryTranscribe Category = "transcribe"
	CategoryAnalyze    Category = "analyze"
	CategorySearch     Category = "search"
)
