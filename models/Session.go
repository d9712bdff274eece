package models

import "time"

// Comparison method names on the wire. The original frontend used
// "standard"/"advanced"; those stay accepted as aliases of the canonical
// names.
const (
	MethodGeometric   = "geometric"
	MethodDeepFeature = "deep-feature"
)

// NormalizeMethod maps a client-supplied method name to its canonical form.
// Returns "" when the name is unknown.
func NormalizeMethod(method string) string {
	switch method {
	case MethodGeometric, "standard":
		return MethodGeometric
	case MethodDeepFeature, "advanced":
		return MethodDeepFeature
	default:
		return ""
	}
}

// Query kinds for a comparison session.
const (
	QueryByIndex = "index"
	QueryByImage = "image"
)

// ComparisonSession is the write-once record of one comparison run. Results
// keeps the full ranked list as a JSON blob; a session row is never updated
// after Create.
type ComparisonSession struct {
	ID             string `gorm:"type:varchar(255);primary_key"`
	VillageName    string `gorm:"type:varchar(255)"`
	QueryKind      string `gorm:"type:varchar(255)"`
	ChosenIndex    int
	Method         string `gorm:"type:varchar(255)"`
	BestMatchFound bool
	BestFilename   string `gorm:"type:varchar(255)"`
	BestScoreInfo  string `gorm:"type:varchar(255)"`
	BestSubVillage string `gorm:"type:varchar(255)"`
	Results        []byte
	CreatedAt      time.Time
}
