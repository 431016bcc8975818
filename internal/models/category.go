package models

// Listing categories
const (
	CategoryClothing    = "Clothing"
	CategoryElectronics = "Electronics"
	CategoryHome        = "Home & Kitchen"
	CategoryBooks       = "Books"
	CategoryToys        = "Toys & Games"
	CategoryFurniture   = "Furniture"
	CategorySports      = "Sports"
	CategoryOther       = "Other"
)

// CategoryAll is accepted by listing filters and means no category filter
const CategoryAll = "All"

var categories = []string{
	CategoryClothing,
	CategoryElectronics,
	CategoryHome,
	CategoryBooks,
	CategoryToys,
	CategoryFurniture,
	CategorySports,
	CategoryOther,
}

// Categories returns the fixed category enumeration
func Categories() []string {
	out := make([]string, len(categories))
	copy(out, categories)
	return out
}

// IsValidCategory reports whether c is one of the fixed categories
func IsValidCategory(c string) bool {
	for _, known := range categories {
		if known == c {
			return true
		}
	}
	return false
}
