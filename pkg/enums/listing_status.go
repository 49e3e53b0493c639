package enums

// ListingStatus mirrors the listing catalog's status column. Only active
// listings can be ordered.
type ListingStatus string

const (
	ListingStatusDraft    ListingStatus = "draft"
	ListingStatusActive   ListingStatus = "active"
	ListingStatusSold     ListingStatus = "sold"
	ListingStatusArchived ListingStatus = "archived"
)

func (s ListingStatus) String() string { return string(s) }
