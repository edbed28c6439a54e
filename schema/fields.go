package schema

// Kind classifies how a field's value is shaped, coerced and rendered into
// a generated JSON schema.
type Kind int

const (
	// KindText is a free-text leaf: plain string under V1, {en, ar} under V2.
	KindText Kind = iota
	// KindString stays a plain string under both versions.
	KindString
	KindBool
	KindInt
	KindContent
	KindDimensions
	KindIngredientList
	KindNutrientList
	// KindTextList is an ordered list of free-text leaves.
	KindTextList
)

// Field describes one Product field: its wire key, value shape, whether the
// record is constructible without it, and the extraction instruction passed
// to annotation-capable providers.
type Field struct {
	Key         string
	Kind        Kind
	Required    bool
	Description string

	assign func(*Product, interface{})
}

// fields is the single ordered declaration every consumer iterates:
// construction, declared-key filtering and schema generation all derive
// from it.
var fields = []Field{
	{
		Key: "product_name", Kind: KindText, Required: true,
		Description: "Extract the most prominent, primary name of the product from the front of the package.",
		assign:      func(p *Product, v interface{}) { p.ProductName = v.(Text) },
	},
	{
		Key: "brand", Kind: KindText,
		Description: "Identify and extract the brand name, which is often a logo or located near the product name.",
		assign:      func(p *Product, v interface{}) { t := v.(Text); p.Brand = &t },
	},
	{
		Key: "flavor", Kind: KindText,
		Description: "Extract the specific flavor of the product if it is mentioned (e.g., 'Chocolate Chip', 'Lemon Lime').",
		assign:      func(p *Product, v interface{}) { t := v.(Text); p.Flavor = &t },
	},
	{
		Key: "product_description", Kind: KindText,
		Description: "Extract any general descriptive marketing text or slogan from the package, if visible.",
		assign:      func(p *Product, v interface{}) { t := v.(Text); p.ProductDescription = &t },
	},
	{
		Key: "price", Kind: KindString,
		Description: "Extract the price of the item as a text string, including the currency symbol, if visible (e.g., '$4.99', '₹120').",
		assign:      func(p *Product, v interface{}) { p.Price = v.(string) },
	},
	{
		Key: "is_promotional", Kind: KindBool,
		Description: "Set to true if words indicating a promotion like 'Special Offer', 'Sale', '2 for 1', or 'New' are clearly visible on the packaging.",
		assign:      func(p *Product, v interface{}) { p.IsPromotional = v.(bool) },
	},
	{
		Key: "net_content", Kind: KindContent,
		Description: "Extract the net weight or volume information (e.g., 'Net Wt 500g', 'Volume 1L').",
		assign:      func(p *Product, v interface{}) { c := v.(Content); p.NetContent = &c },
	},
	{
		Key: "item_count", Kind: KindInt,
		Description: "If the package contains multiple individual items, extract the count (e.g., for '6 Pack Cans', extract 6).",
		assign:      func(p *Product, v interface{}) { n := v.(int); p.ItemCount = &n },
	},
	{
		Key: "dimensions", Kind: KindDimensions,
		Description: "Extract the physical package dimensions if they are listed (e.g., '10cm x 5cm x 2cm').",
		assign:      func(p *Product, v interface{}) { d := v.(Dimensions); p.Dimensions = &d },
	},
	{
		Key: "barcode", Kind: KindString,
		Description: "Extract the sequence of numerical digits from the product's barcode (UPC or EAN), if visible.",
		assign:      func(p *Product, v interface{}) { p.Barcode = v.(string) },
	},
	{
		Key: "serving_size", Kind: KindText,
		Description: "From the nutrition facts panel, extract the serving size text (e.g., '1 cup (228g)').",
		assign:      func(p *Product, v interface{}) { t := v.(Text); p.ServingSize = &t },
	},
	{
		Key: "servings_per_container", Kind: KindText,
		Description: "From the nutrition facts panel, extract the number of servings per container (e.g., 'about 2.5', '8').",
		assign:      func(p *Product, v interface{}) { t := v.(Text); p.ServingsPerContainer = &t },
	},
	{
		Key: "ingredients", Kind: KindIngredientList,
		Description: "Parse and extract each item from the complete ingredients list.",
		assign:      func(p *Product, v interface{}) { p.Ingredients = v.([]Ingredient) },
	},
	{
		Key: "nutrition_facts", Kind: KindNutrientList,
		Description: "Extract all available nutrient rows from the nutrition facts table.",
		assign:      func(p *Product, v interface{}) { p.NutritionFacts = v.([]Nutrient) },
	},
	{
		Key: "allergens", Kind: KindTextList,
		Description: "Extract the exact text from any dedicated allergen statement, often starting with 'Contains:'.",
		assign:      func(p *Product, v interface{}) { p.Allergens = v.([]Text) },
	},
	{
		Key: "claims", Kind: KindTextList,
		Description: "Extract any marketing or health claims made on the packaging (e.g., 'High in Fiber', 'No Added Sugar', 'Gluten Free').",
		assign:      func(p *Product, v interface{}) { p.Claims = v.([]Text) },
	},
	{
		Key: "certifications", Kind: KindTextList,
		Description: "Extract the names of any official certifications shown as logos or text (e.g., 'USDA Organic', 'Halal', 'Non-GMO Project Verified').",
		assign:      func(p *Product, v interface{}) { p.Certifications = v.([]Text) },
	},
	{
		Key: "manufacturer", Kind: KindText,
		Description: "Extract the company name listed after a phrase like 'Manufactured by:' or 'Produced by:'.",
		assign:      func(p *Product, v interface{}) { t := v.(Text); p.Manufacturer = &t },
	},
	{
		Key: "distributor", Kind: KindText,
		Description: "Extract the company name listed after a phrase like 'Distributed by:', if present and different from the manufacturer.",
		assign:      func(p *Product, v interface{}) { t := v.(Text); p.Distributor = &t },
	},
	{
		Key: "country_of_origin", Kind: KindText,
		Description: "Extract the country name from phrases like 'Made in', 'Product of', or 'Originated from'.",
		assign:      func(p *Product, v interface{}) { t := v.(Text); p.CountryOfOrigin = &t },
	},
	{
		Key: "storage_instructions", Kind: KindText,
		Description: "Extract any instructions for storing the product (e.g., 'Refrigerate after opening', 'Store in a cool, dry place').",
		assign:      func(p *Product, v interface{}) { t := v.(Text); p.StorageInstructions = &t },
	},
	{
		Key: "expiration_date", Kind: KindString,
		Description: "Find and extract the expiration date, which may be labeled as 'Best By', 'Use By', or 'EXP'.",
		assign:      func(p *Product, v interface{}) { p.ExpirationDate = v.(string) },
	},
	{
		Key: "batch_number", Kind: KindString,
		Description: "Find and extract the production lot or batch number, often labeled 'Lot No.' or 'Batch'.",
		assign:      func(p *Product, v interface{}) { p.BatchNumber = v.(string) },
	},
}

var fieldByKey = func() map[string]Field {
	m := make(map[string]Field, len(fields))
	for _, f := range fields {
		m[f.Key] = f
	}
	return m
}()

// Fields returns the ordered field registry. Callers must not modify the
// returned slice.
func Fields() []Field { return fields }

// Lookup returns the descriptor for a wire key.
func Lookup(key string) (Field, bool) {
	f, ok := fieldByKey[key]
	return f, ok
}

// IsDeclared reports whether key names a Product field.
func IsDeclared(key string) bool {
	_, ok := fieldByKey[key]
	return ok
}
