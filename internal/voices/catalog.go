// Package voices holds the static catalog of prebuilt Gemini speech voices.
package voices

import "fmt"

// Gender labels used in voice descriptions.
const (
	GenderFemale = "Female"
	GenderMale   = "Male"
)

const descriptionSeparator = " • "

// Voice describes a single prebuilt voice.
type Voice struct {
	APIName     string
	DisplayName string
	Style       string
	Gender      string
}

// Description returns the listing label, e.g. "Male • Excitable".
func (v Voice) Description() string {
	return fmt.Sprintf("%s%s%s", v.Gender, descriptionSeparator, v.Style)
}

// Listing is the JSON shape returned to the frontend.
type Listing struct {
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	APIName     string `json:"api_name"`
}

// Catalog is an immutable, ordered set of voices indexed by display name.
type Catalog struct {
	voices    []Voice
	byDisplay map[string]Voice
}

// NewCatalog builds a catalog from voices, keeping their order. A later entry
// with a duplicate display name replaces the earlier one for lookups.
func NewCatalog(voices []Voice) *Catalog {
	catalog := &Catalog{
		voices:    make([]Voice, len(voices)),
		byDisplay: make(map[string]Voice, len(voices)),
	}

	copy(catalog.voices, voices)

	for _, voice := range voices {
		catalog.byDisplay[voice.DisplayName] = voice
	}

	return catalog
}

// Default returns the catalog of Gemini studio voices.
func Default() *Catalog {
	raw := []struct {
		name   string
		style  string
		female bool
	}{
		{"Zephyr", "Bright", true}, {"Puck", "Upbeat", false}, {"Charon", "Informative", false},
		{"Kore", "Firm", true}, {"Fenrir", "Excitable", false}, {"Leda", "Youthful", true},
		{"Orus", "Firm", false}, {"Aoede", "Breezy", true}, {"Callirrhoe", "Easy-going", true},
		{"Autonoe", "Bright", true}, {"Enceladus", "Breathy", false}, {"Iapetus", "Clear", false},
		{"Umbriel", "Easy-going", false}, {"Algieba", "Smooth", false}, {"Despina", "Smooth", true},
		{"Erinome", "Clear", true}, {"Algenib", "Gravelly", false}, {"Rasalgethi", "Informative", false},
		{"Laomedeia", "Upbeat", true}, {"Achernar", "Soft", true}, {"Alnilam", "Firm", false},
		{"Schedar", "Even", false}, {"Gacrux", "Mature", true}, {"Pulcherrima", "Forward", true},
		{"Achird", "Friendly", false}, {"Zubenelgenubi", "Casual", false}, {"Vindemiatrix", "Gentle", true},
		{"Sadachbia", "Lively", false}, {"Sadaltager", "Knowledgeable", false}, {"Sulafat", "Warm", true},
	}

	voices := make([]Voice, 0, len(raw))

	for _, entry := range raw {
		gender := GenderMale
		if entry.female {
			gender = GenderFemale
		}

		voices = append(voices, Voice{
			APIName:     entry.name,
			DisplayName: entry.name,
			Style:       entry.style,
			Gender:      gender,
		})
	}

	return NewCatalog(voices)
}

// Resolve maps a display name to its API identifier. Names not in the
// catalog are returned unchanged so callers can pass raw API names through.
func (c *Catalog) Resolve(displayName string) string {
	voice, ok := c.byDisplay[displayName]
	if !ok {
		return displayName
	}

	return voice.APIName
}

// Lookup returns the voice registered under displayName.
func (c *Catalog) Lookup(displayName string) (Voice, bool) {
	voice, ok := c.byDisplay[displayName]

	return voice, ok
}

// Voices returns a copy of the catalog in declaration order.
func (c *Catalog) Voices() []Voice {
	out := make([]Voice, len(c.voices))
	copy(out, c.voices)

	return out
}

// Listings returns the frontend view of every voice.
func (c *Catalog) Listings() []Listing {
	listings := make([]Listing, 0, len(c.voices))
	for _, voice := range c.voices {
		listings = append(listings, Listing{
			DisplayName: voice.DisplayName,
			Description: voice.Description(),
			APIName:     voice.APIName,
		})
	}

	return listings
}

// Len returns the number of voices.
func (c *Catalog) Len() int {
	return len(c.voices)
}
