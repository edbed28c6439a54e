package schema

// Text is a free-text value rendered in up to two languages. Either slot
// may be empty; neither has storage priority. Values are immutable once
// constructed.
type Text struct {
	EN string `json:"en,omitempty"`
	AR string `json:"ar,omitempty"`
}

// IsZero reports whether both language slots are empty.
func (t Text) IsZero() bool { return t.EN == "" && t.AR == "" }

// Primary returns the English slot when populated, otherwise the Arabic
// slot. Display convenience only.
func (t Text) Primary() string {
	if t.EN != "" {
		return t.EN
	}
	return t.AR
}

func (t Text) String() string {
	if t.EN != "" && t.AR != "" {
		return t.EN + " / " + t.AR
	}
	return t.Primary()
}

// Nutrient is one row of a nutrition facts table. Identity is position in
// the enclosing slice.
type Nutrient struct {
	Name              Text     `json:"name"`
	Quantity          *float64 `json:"quantity,omitempty"`
	Unit              *Text    `json:"unit,omitempty"`
	DailyValuePercent *float64 `json:"daily_value_percent,omitempty"`
}

// Ingredient is one entry of the ingredients list.
type Ingredient struct {
	Name       Text  `json:"name"`
	Quantity   *Text `json:"quantity,omitempty"`
	IsAllergen bool  `json:"is_allergen,omitempty"`
}

// Dimensions holds the physical package dimensions, if printed.
type Dimensions struct {
	Length *float64 `json:"length,omitempty"`
	Width  *float64 `json:"width,omitempty"`
	Height *float64 `json:"height,omitempty"`
	Unit   Text     `json:"unit"` // defaults to "cm"
}

// Content is the net weight or volume of the product. Both members are
// required when the field is present at all.
type Content struct {
	Value float64 `json:"value"`
	Unit  Text    `json:"unit"`
}

// Product is the central extracted entity. Only ProductName is required;
// every other field may be absent. Records are created fresh per image and
// never updated.
type Product struct {
	ProductName        Text  `json:"product_name"`
	Brand              *Text `json:"brand,omitempty"`
	Flavor             *Text `json:"flavor,omitempty"`
	ProductDescription *Text `json:"product_description,omitempty"`

	Price         string `json:"price,omitempty"`
	IsPromotional bool   `json:"is_promotional,omitempty"`

	NetContent *Content    `json:"net_content,omitempty"`
	ItemCount  *int        `json:"item_count,omitempty"`
	Dimensions *Dimensions `json:"dimensions,omitempty"`

	Barcode string `json:"barcode,omitempty"`

	ServingSize          *Text `json:"serving_size,omitempty"`
	ServingsPerContainer *Text `json:"servings_per_container,omitempty"`

	Ingredients    []Ingredient `json:"ingredients,omitempty"`
	NutritionFacts []Nutrient   `json:"nutrition_facts,omitempty"`

	Allergens      []Text `json:"allergens,omitempty"`
	Claims         []Text `json:"claims,omitempty"`
	Certifications []Text `json:"certifications,omitempty"`

	Manufacturer    *Text `json:"manufacturer,omitempty"`
	Distributor     *Text `json:"distributor,omitempty"`
	CountryOfOrigin *Text `json:"country_of_origin,omitempty"`

	StorageInstructions *Text  `json:"storage_instructions,omitempty"`
	ExpirationDate      string `json:"expiration_date,omitempty"`
	BatchNumber         string `json:"batch_number,omitempty"`
}

// Annotation is the top-level envelope produced per image: the image
// identifier plus its extracted product details. It is also the document
// annotation schema declared to annotation-capable providers.
type Annotation struct {
	ImageID        string   `json:"image_id"`
	ProductDetails *Product `json:"product_details"`
}
