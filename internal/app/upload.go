package app

import "time"

// MonthlyUpload is one calendar month's batch of officer reported records.
// It owns its activity, bounty and mining records, which are deleted in
// cascade with the upload.
type MonthlyUpload struct {
	ID             int64
	Year           int
	Month          int
	UploadDate     time.Time
	TaxRate        float64
	OreConvertRate float64
	UploadedBy     string
}

// ActivityRecord is one character's fleet activity for one upload.
type ActivityRecord struct {
	ID              int64
	UploadID        int64
	CharacterID     int64
	CharacterName   string
	Points          float64
	StrategicPoints float64
}

// BountyRecord is one character's paid tax for one upload.
type BountyRecord struct {
	ID            int64
	UploadID      int64
	CharacterID   int64
	CharacterName string
	TaxISK        float64
}

// MiningRecord is one character's mined volume for one upload.
type MiningRecord struct {
	ID            int64
	UploadID      int64
	CharacterID   int64
	CharacterName string
	VolumeM3      float64
}
