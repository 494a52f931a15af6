package model

// ImageRef is the stable reference to a stored image that a work item carries.
// It is only ever produced by the ingestion pipeline.
type ImageRef struct {
	URL      string `json:"imageUrl"`
	PublicID string `json:"publicId"`
}

// ImageAsset describes the object written to the store by a single ingestion.
type ImageAsset struct {
	ImageRef
	Bytes  int64  `json:"bytes"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}
