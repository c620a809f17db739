package match

// Config carries the tunable parameters of the gate and scoring rules.
// Score() is pure: everything it depends on besides its inputs lives here.
type Config struct {
	// TRL gate tolerance. Active programs require strict range membership;
	// expired programs are only scored for historical pattern analysis and
	// get a wider band.
	TRLToleranceActive  int
	TRLToleranceExpired int

	// RelatedSectors maps an industry sector to sectors considered adjacent
	// for partial industry-alignment credit. Kept as a static taxonomy so
	// the factor stays deterministic and explainable.
	RelatedSectors map[string][]string
}

func DefaultConfig() Config {
	return Config{
		TRLToleranceActive:  0,
		TRLToleranceExpired: 3,
		RelatedSectors: map[string][]string{
			"ict":           {"software", "ai", "semiconductor", "telecom"},
			"software":      {"ict", "ai", "fintech"},
			"ai":            {"ict", "software", "robotics", "bigdata"},
			"bio":           {"medical", "pharma", "healthcare"},
			"medical":       {"bio", "healthcare", "medtech"},
			"manufacturing": {"materials", "machinery", "robotics", "smart_factory"},
			"materials":     {"manufacturing", "chemistry", "battery"},
			"energy":        {"battery", "hydrogen", "environment"},
			"environment":   {"energy", "climate", "recycling"},
			"agrifood":      {"bio", "foodtech"},
			"contents":      {"media", "game", "metaverse"},
		},
	}
}

// Thresholds are the minimum-score cutoffs per use-case. The source
// material disagrees on a single value, so each consumer names its own.
type Thresholds struct {
	Listing      int // user-facing match listings
	Notification int // push/new-match notification triggers
	Historical   int // expired-program pattern analysis
}

func DefaultThresholds() Thresholds {
	return Thresholds{Listing: 45, Notification: 60, Historical: 50}
}
