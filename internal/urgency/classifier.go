// Package urgency classifies stock levels against the reorder point and
// serves the low-stock notification feed.
package urgency

// Level is a notification tier.
type Level string

const (
	LevelNormal     Level = "normal"
	LevelLow        Level = "low"
	LevelCritical   Level = "critical"
	LevelOutOfStock Level = "out_of_stock"
)

// Severity orders levels for the feed; higher is more urgent.
func (l Level) Severity() int {
	switch l {
	case LevelOutOfStock:
		return 3
	case LevelCritical:
		return 2
	case LevelLow:
		return 1
	}
	return 0
}

// Classify maps a stock level and reorder point to a tier. The first
// matching rule wins, so zero stock is always out of stock.
func Classify(stock, rop int64) Level {
	switch {
	case stock <= 0:
		return LevelOutOfStock
	case 2*stock < rop:
		return LevelCritical
	case stock < rop:
		return LevelLow
	}
	return LevelNormal
}

// Label is the human readable name of a level.
func Label(l Level) string {
	switch l {
	case LevelOutOfStock:
		return "Out of stock"
	case LevelCritical:
		return "Critical"
	case LevelLow:
		return "Low stock"
	}
	return "Normal"
}

// Badge is the per-product indicator.
type Badge struct {
	Status Level  `json:"status"`
	Icon   string `json:"icon"`
	Label  string `json:"label"`
}

// BadgeFor returns the badge rendered for a level.
func BadgeFor(l Level) Badge {
	icon := "check-circle"
	switch l {
	case LevelOutOfStock:
		icon = "x-octagon"
	case LevelCritical:
		icon = "alert-triangle"
	case LevelLow:
		icon = "alert-circle"
	}
	return Badge{Status: l, Icon: icon, Label: Label(l)}
}
