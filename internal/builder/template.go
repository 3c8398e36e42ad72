package builder

// ItemType is the backend's item kind. Each kind carries its own fields.
type ItemType string

const (
	Physical ItemType = "PHYSICAL"
	Digital  ItemType = "DIGITAL"
	Service  ItemType = "SERVICE"
)

// Dimensions of a physical item.
type Dimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Template is a declarative item description. Templates are values; the
// builder never mutates one.
type Template struct {
	Name          string
	Description   string
	Category      string
	ItemType      ItemType
	Price         float64
	Weight        float64
	Dimensions    *Dimensions
	DownloadURL   string
	FileSize      int64
	DurationHours int
	Tags          []string
	// IsActive nil means active.
	IsActive *bool
}

// Active reports the template's intended activity state.
func (t Template) Active() bool {
	return t.IsActive == nil || *t.IsActive
}

func inactive() *bool {
	f := false
	return &f
}

// SeedItems is the baseline every writable identity is healed towards.
var SeedItems = []Template{
	{
		Name:        "Seed Item Alpha",
		Description: "Electronics item for search and filter testing",
		ItemType:    Physical,
		Price:       25.00,
		Category:    "Electronics",
		Weight:      1.0,
		Dimensions:  &Dimensions{Length: 10, Width: 8, Height: 5},
	},
	{
		Name:        "Seed Item Beta",
		Description: "Software item for search and filter testing",
		ItemType:    Digital,
		Price:       50.00,
		Category:    "Software",
		DownloadURL: "https://example.com/beta",
		FileSize:    200,
	},
	{
		Name:        "Seed Item Gamma",
		Description: "Home item for category filter testing",
		ItemType:    Physical,
		Price:       75.00,
		Category:    "Home",
		Weight:      2.5,
		Dimensions:  &Dimensions{Length: 15, Width: 10, Height: 8},
	},
	{
		Name:        "Seed Item Delta",
		Description: "Electronics physical item for testing",
		ItemType:    Physical,
		Price:       100.00,
		Category:    "Electronics",
		Weight:      3.0,
		Dimensions:  &Dimensions{Length: 20, Width: 15, Height: 10},
	},
	{
		Name:        "Seed Item Epsilon",
		Description: "Books category item for filter testing",
		ItemType:    Digital,
		Price:       15.00,
		Category:    "Books",
		DownloadURL: "https://example.com/epsilon",
		FileSize:    50,
	},
	{
		Name:        "Seed Item Zeta",
		Description: "Inactive software item for status filter testing",
		ItemType:    Digital,
		Price:       200.00,
		Category:    "Software",
		DownloadURL: "https://example.com/zeta",
		FileSize:    500,
		IsActive:    inactive(),
	},
	{
		Name:        "Seed Item Eta",
		Description: "Home item for price sort testing",
		ItemType:    Physical,
		Price:       30.00,
		Category:    "Home",
		Weight:      1.0,
		Dimensions:  &Dimensions{Length: 12, Width: 8, Height: 6},
	},
	{
		Name:        "Seed Item Theta",
		Description: "Premium electronics item for price sort testing",
		ItemType:    Physical,
		Price:       500.00,
		Category:    "Electronics",
		Weight:      5.0,
		Dimensions:  &Dimensions{Length: 40, Width: 30, Height: 20},
	},
	{
		Name:        "Seed Item Iota",
		Description: "Books physical item for testing",
		ItemType:    Physical,
		Price:       10.00,
		Category:    "Books",
		Weight:      0.5,
		Dimensions:  &Dimensions{Length: 8, Width: 6, Height: 2},
	},
	{
		Name:        "Seed Item Kappa",
		Description: "Software item for pagination testing",
		ItemType:    Digital,
		Price:       150.00,
		Category:    "Software",
		DownloadURL: "https://example.com/kappa",
		FileSize:    300,
	},
	{
		Name:        "Seed Item Lambda",
		Description: "Inactive home item for status and price testing",
		ItemType:    Physical,
		Price:       5.00,
		Category:    "Home",
		Weight:      0.3,
		Dimensions:  &Dimensions{Length: 5, Width: 5, Height: 3},
		IsActive:    inactive(),
	},
}
