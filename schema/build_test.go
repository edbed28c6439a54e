package schema

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestBuildMinimalRecord(t *testing.T) {
	for _, version := range []Version{V1, V2} {
		p, rep, err := Build(version, map[string]interface{}{
			"product_name": "Nutty Crunch",
		})
		if err != nil {
			t.Fatalf("%s: Build: %v", version, err)
		}
		if p.ProductName.EN != "Nutty Crunch" {
			t.Errorf("%s: product_name = %+v", version, p.ProductName)
		}
		if p.Brand != nil || p.Ingredients != nil || p.ItemCount != nil {
			t.Errorf("%s: optional fields should stay unset", version)
		}
		if !reflect.DeepEqual(rep.Populated, []string{"product_name"}) {
			t.Errorf("%s: populated = %v", version, rep.Populated)
		}
	}
}

func TestBuildMissingProductName(t *testing.T) {
	_, _, err := Build(V1, map[string]interface{}{"brand": "Acme"})
	if err == nil {
		t.Fatalf("expected error for missing product_name")
	}
	if !errors.Is(err, ErrMissingRequired) {
		t.Errorf("error %v does not wrap ErrMissingRequired", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error %T is not a *ValidationError", err)
	}
	if got := verr.Error(); !strings.Contains(got, "product_name") {
		t.Errorf("error message %q does not name product_name", got)
	}
}

func TestBuildEmptyProductNameIsMissing(t *testing.T) {
	_, _, err := Build(V2, map[string]interface{}{"product_name": "   "})
	if !errors.Is(err, ErrMissingRequired) {
		t.Errorf("blank product_name should be missing, got %v", err)
	}
}

func TestBuildStrictRejectsUnknownKey(t *testing.T) {
	data := map[string]interface{}{
		"product_name": "Nutty Crunch",
		"weight":       "250g",
	}
	_, _, err := Build(V1, data)
	if !errors.Is(err, ErrUnknownField) {
		t.Fatalf("strict build should reject unknown key, got %v", err)
	}

	p, rep, err := BuildLenient(V1, data)
	if err != nil {
		t.Fatalf("BuildLenient: %v", err)
	}
	if p.ProductName.EN != "Nutty Crunch" {
		t.Errorf("product_name = %+v", p.ProductName)
	}
	if !reflect.DeepEqual(rep.Dropped, []string{"weight"}) {
		t.Errorf("dropped = %v, want [weight]", rep.Dropped)
	}
}

func TestBuildLenientDropsInvalidValue(t *testing.T) {
	data := map[string]interface{}{
		"product_name": "Nutty Crunch",
		"item_count":   "a few",
	}
	if _, _, err := Build(V1, data); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("strict build should reject bad item_count, got %v", err)
	}
	p, rep, err := BuildLenient(V1, data)
	if err != nil {
		t.Fatalf("BuildLenient: %v", err)
	}
	if p.ItemCount != nil {
		t.Errorf("item_count should be dropped, got %d", *p.ItemCount)
	}
	if !reflect.DeepEqual(rep.Dropped, []string{"item_count"}) {
		t.Errorf("dropped = %v", rep.Dropped)
	}
}

func TestBuildLenientFailsOnlyWithoutName(t *testing.T) {
	_, _, err := BuildLenient(V2, map[string]interface{}{
		"weight":      "250g",
		"gluten_free": true,
	})
	if !errors.Is(err, ErrMissingRequired) {
		t.Fatalf("lenient build without product_name should fail, got %v", err)
	}
}

func TestBuildCoercions(t *testing.T) {
	data := map[string]interface{}{
		"product_name":   "Fizzy Cola",
		"item_count":     "6",
		"is_promotional": "true",
		"price":          "$4.99",
		"barcode":        float64(123456789),
	}
	p, _, err := Build(V1, data)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.ItemCount == nil || *p.ItemCount != 6 {
		t.Errorf("item_count = %v, want 6", p.ItemCount)
	}
	if !p.IsPromotional {
		t.Errorf("is_promotional should coerce from string")
	}
	if p.Price != "$4.99" {
		t.Errorf("price = %q", p.Price)
	}
	if p.Barcode != "123456789" {
		t.Errorf("barcode = %q, want digits", p.Barcode)
	}
}

func TestBuildV2BilingualLeaves(t *testing.T) {
	data := map[string]interface{}{
		"product_name": map[string]interface{}{"en": "Chocolate Bar", "ar": "لوح شوكولاتة"},
		"brand":        map[string]interface{}{"ar": "أكمي"},
	}
	p, _, err := Build(V2, data)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.ProductName.EN != "Chocolate Bar" || p.ProductName.AR != "لوح شوكولاتة" {
		t.Errorf("product_name = %+v", p.ProductName)
	}
	if p.Brand == nil || p.Brand.AR != "أكمي" || p.Brand.EN != "" {
		t.Errorf("brand = %+v", p.Brand)
	}
}

func TestBuildV2SplitsMixedScriptStrings(t *testing.T) {
	p, _, err := Build(V2, map[string]interface{}{
		"product_name": "Date Bar تمر",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.ProductName.EN != "Date Bar" || p.ProductName.AR != "تمر" {
		t.Errorf("product_name = %+v", p.ProductName)
	}
}

func TestBuildIngredientsFromString(t *testing.T) {
	p, _, err := Build(V1, map[string]interface{}{
		"product_name": "Biscuits",
		"ingredients":  "wheat flour, palm oil , sugar",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := []string{"wheat flour", "palm oil", "sugar"}
	if len(p.Ingredients) != len(want) {
		t.Fatalf("ingredients = %+v, want %d entries", p.Ingredients, len(want))
	}
	for i, name := range want {
		if p.Ingredients[i].Name.EN != name {
			t.Errorf("ingredient %d = %+v, want %q", i, p.Ingredients[i].Name, name)
		}
	}
}

func TestBuildIngredientObjects(t *testing.T) {
	p, _, err := Build(V2, map[string]interface{}{
		"product_name": "Biscuits",
		"ingredients": []interface{}{
			map[string]interface{}{"name": "wheat flour", "quantity": "60%", "is_allergen": true},
			map[string]interface{}{"name": map[string]interface{}{"en": "sugar", "ar": "سكر"}},
		},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(p.Ingredients) != 2 {
		t.Fatalf("ingredients = %+v", p.Ingredients)
	}
	first := p.Ingredients[0]
	if first.Name.EN != "wheat flour" || !first.IsAllergen || first.Quantity == nil || first.Quantity.EN != "60%" {
		t.Errorf("first ingredient = %+v", first)
	}
	if p.Ingredients[1].Name.AR != "سكر" {
		t.Errorf("second ingredient = %+v", p.Ingredients[1])
	}
}

func TestBuildNetContent(t *testing.T) {
	p, _, err := Build(V1, map[string]interface{}{
		"product_name": "Juice",
		"net_content":  map[string]interface{}{"value": float64(500), "unit": "ml"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.NetContent == nil || p.NetContent.Value != 500 || p.NetContent.Unit.EN != "ml" {
		t.Errorf("net_content = %+v", p.NetContent)
	}

	_, _, err = Build(V1, map[string]interface{}{
		"product_name": "Juice",
		"net_content":  map[string]interface{}{"value": float64(500)},
	})
	if !errors.Is(err, ErrInvalidValue) {
		t.Errorf("net_content without unit should be invalid, got %v", err)
	}
}

func TestBuildNutrients(t *testing.T) {
	p, _, err := Build(V2, map[string]interface{}{
		"product_name": "Cereal",
		"nutrition_facts": []interface{}{
			map[string]interface{}{
				"name":                map[string]interface{}{"en": "Total Fat"},
				"quantity":            float64(10),
				"unit":                "g",
				"daily_value_percent": float64(15),
			},
			map[string]interface{}{"name": "Sodium"},
		},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(p.NutritionFacts) != 2 {
		t.Fatalf("nutrition_facts = %+v", p.NutritionFacts)
	}
	fat := p.NutritionFacts[0]
	if fat.Name.EN != "Total Fat" || fat.Quantity == nil || *fat.Quantity != 10 ||
		fat.Unit == nil || fat.Unit.EN != "g" || fat.DailyValuePercent == nil || *fat.DailyValuePercent != 15 {
		t.Errorf("first nutrient = %+v", fat)
	}
	sodium := p.NutritionFacts[1]
	if sodium.Name.EN != "Sodium" || sodium.Quantity != nil {
		t.Errorf("second nutrient = %+v", sodium)
	}
}

func TestBuildDimensionsDefaultUnit(t *testing.T) {
	p, _, err := Build(V1, map[string]interface{}{
		"product_name": "Box",
		"dimensions":   map[string]interface{}{"length": float64(10), "width": float64(5)},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	d := p.Dimensions
	if d == nil || d.Length == nil || *d.Length != 10 || d.Height != nil {
		t.Fatalf("dimensions = %+v", d)
	}
	if d.Unit.EN != "cm" {
		t.Errorf("unit = %+v, want cm default", d.Unit)
	}
}

func TestBuildTextListPromotion(t *testing.T) {
	p, _, err := Build(V1, map[string]interface{}{
		"product_name": "Crackers",
		"claims":       "Gluten Free",
		"allergens":    []interface{}{"Wheat", "Milk"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(p.Claims) != 1 || p.Claims[0].EN != "Gluten Free" {
		t.Errorf("claims = %+v", p.Claims)
	}
	if len(p.Allergens) != 2 || p.Allergens[1].EN != "Milk" {
		t.Errorf("allergens = %+v", p.Allergens)
	}
}

func TestBuildPopulatedFollowsRegistryOrder(t *testing.T) {
	p, rep, err := Build(V1, map[string]interface{}{
		"batch_number": "L2231",
		"brand":        "Acme",
		"product_name": "Nutty Crunch",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.BatchNumber != "L2231" {
		t.Errorf("batch_number = %q", p.BatchNumber)
	}
	want := []string{"product_name", "brand", "batch_number"}
	if !reflect.DeepEqual(rep.Populated, want) {
		t.Errorf("populated = %v, want %v", rep.Populated, want)
	}
}
