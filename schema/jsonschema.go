package schema

import "sort"

// Language notes appended to free-text field descriptions so the provider
// formats its output for the active version.
const (
	noteV1 = " If Arabic text for this field is found, append it, separated by a comma."
	noteV2 = " Extract in English and Arabic."
)

// ProductSchema generates the JSON Schema for the product record under the
// given version. V1 renders free-text leaves as plain strings, V2 as
// {en, ar} objects; both derive from the same field registry.
func ProductSchema(v Version) map[string]interface{} {
	props := make(map[string]interface{}, len(fields))
	required := make([]interface{}, 0, 1)
	for _, f := range fields {
		props[f.Key] = fieldSchema(v, f)
		if f.Required {
			required = append(required, f.Key)
		}
	}
	return map[string]interface{}{
		"type":                 "object",
		"description":          "Structured representation of all extracted product data from an image.",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

// DocumentSchema generates the JSON Schema for the full per-image
// annotation envelope: image_id plus product_details.
func DocumentSchema(v Version) map[string]interface{} {
	return map[string]interface{}{
		"$schema":     "http://json-schema.org/draft-07/schema#",
		"type":        "object",
		"description": "The complete schema for an annotated image, containing image metadata and extracted product details.",
		"properties": map[string]interface{}{
			"image_id": map[string]interface{}{
				"type":        "string",
				"description": "A unique identifier for the image file.",
			},
			"product_details": ProductSchema(v),
		},
		"required":             []interface{}{"image_id", "product_details"},
		"additionalProperties": false,
	}
}

// BoxSchema generates the JSON Schema for one localized detection, used as
// the bbox annotation format.
func BoxSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"description": "Represents a bounding box for a detected text or object.",
		"properties": map[string]interface{}{
			"x": map[string]interface{}{
				"type":        "integer",
				"description": "The x-coordinate of the top-left corner of the bounding box.",
			},
			"y": map[string]interface{}{
				"type":        "integer",
				"description": "The y-coordinate of the top-left corner of the bounding box.",
			},
			"width": map[string]interface{}{
				"type":        "integer",
				"description": "The width of the bounding box in pixels.",
			},
			"height": map[string]interface{}{
				"type":        "integer",
				"description": "The height of the bounding box in pixels.",
			},
			"label": map[string]interface{}{
				"type":        "string",
				"description": "The specific label or class name of the detected object (e.g., 'product_name', 'brand').",
			},
		},
		"required":             []interface{}{"x", "y", "width", "height", "label"},
		"additionalProperties": false,
	}
}

// Strict normalizes a generated schema in place for strict structured
// output: every object level declares all of its properties required and
// forbids additional ones; optionality stays expressed through nullable
// types. Array items and composition branches are walked recursively.
func Strict(node interface{}) {
	switch n := node.(type) {
	case map[string]interface{}:
		if props, ok := n["properties"].(map[string]interface{}); ok {
			if _, hasType := n["type"]; !hasType {
				n["type"] = "object"
			}
			keys := make([]string, 0, len(props))
			for k := range props {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			req := make([]interface{}, 0, len(keys))
			for _, k := range keys {
				req = append(req, k)
			}
			n["required"] = req
			n["additionalProperties"] = false
			for _, v := range props {
				Strict(v)
			}
		}
		if items, ok := n["items"]; ok {
			switch it := items.(type) {
			case map[string]interface{}:
				Strict(it)
			case []interface{}:
				for _, el := range it {
					Strict(el)
				}
			}
		}
		for _, k := range []string{"oneOf", "anyOf", "allOf"} {
			if arr, ok := n[k].([]interface{}); ok {
				for _, el := range arr {
					Strict(el)
				}
			}
		}
	case []interface{}:
		for _, v := range n {
			Strict(v)
		}
	}
}

func fieldSchema(v Version, f Field) map[string]interface{} {
	optional := !f.Required
	switch f.Kind {
	case KindText:
		return textLeaf(v, f.Description, optional)
	case KindString:
		return map[string]interface{}{
			"type":        schemaType("string", optional),
			"description": f.Description,
		}
	case KindBool:
		return map[string]interface{}{
			"type":        "boolean",
			"description": f.Description,
			"default":     false,
		}
	case KindInt:
		return map[string]interface{}{
			"type":        schemaType("integer", optional),
			"description": f.Description,
		}
	case KindContent:
		s := contentSchema(v, optional)
		s["description"] = f.Description
		return s
	case KindDimensions:
		s := dimensionsSchema(v, optional)
		s["description"] = f.Description
		return s
	case KindIngredientList:
		return map[string]interface{}{
			"type":        schemaType("array", optional),
			"description": f.Description,
			"items":       ingredientSchema(v),
		}
	case KindNutrientList:
		return map[string]interface{}{
			"type":        schemaType("array", optional),
			"description": f.Description,
			"items":       nutrientSchema(v),
		}
	case KindTextList:
		return map[string]interface{}{
			"type":        schemaType("array", optional),
			"description": f.Description,
			"items":       textLeaf(v, "", false),
		}
	}
	return map[string]interface{}{"type": schemaType("string", optional)}
}

// textLeaf renders one free-text leaf: a string under V1, an {en, ar}
// object under V2, with the per-version language note appended to the
// description.
func textLeaf(v Version, desc string, optional bool) map[string]interface{} {
	if v == V2 {
		node := map[string]interface{}{
			"type": schemaType("object", optional),
			"properties": map[string]interface{}{
				"en": map[string]interface{}{
					"type":        schemaType("string", true),
					"description": "The extracted text in English.",
				},
				"ar": map[string]interface{}{
					"type":        schemaType("string", true),
					"description": "The extracted text in Arabic.",
				},
			},
			"required":             []interface{}{},
			"additionalProperties": false,
		}
		if desc != "" {
			node["description"] = desc + noteV2
		}
		return node
	}
	node := map[string]interface{}{
		"type": schemaType("string", optional),
	}
	if desc != "" {
		node["description"] = desc + noteV1
	}
	return node
}

func schemaType(t string, optional bool) interface{} {
	if optional {
		return []interface{}{t, "null"}
	}
	return t
}

func contentSchema(v Version, optional bool) map[string]interface{} {
	return map[string]interface{}{
		"type": schemaType("object", optional),
		"properties": map[string]interface{}{
			"value": map[string]interface{}{
				"type":        "number",
				"description": "Extract the numerical value of the product's net weight or volume (e.g., from 'NET WT 500 g', extract 500).",
			},
			"unit": textLeaf(v, "Extract the unit of the product's net weight or volume (e.g., 'g', 'kg', 'ml', 'L', 'oz').", false),
		},
		"required":             []interface{}{"value", "unit"},
		"additionalProperties": false,
	}
}

func dimensionsSchema(v Version, optional bool) map[string]interface{} {
	side := func(name string) map[string]interface{} {
		return map[string]interface{}{
			"type":        schemaType("number", true),
			"description": "Extract the numerical value for the package's " + name + ", if specified.",
		}
	}
	unit := textLeaf(v, "Extract the unit of measurement for the dimensions (e.g., 'cm', 'in', 'mm').", true)
	unit["default"] = "cm"
	return map[string]interface{}{
		"type": schemaType("object", optional),
		"properties": map[string]interface{}{
			"length": side("length"),
			"width":  side("width"),
			"height": side("height"),
			"unit":   unit,
		},
		"required":             []interface{}{},
		"additionalProperties": false,
	}
}

func ingredientSchema(v Version) map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"description": "Represents an individual ingredient from the ingredients list.",
		"properties": map[string]interface{}{
			"name":     textLeaf(v, "Extract the name of a single ingredient from the ingredients list (e.g., 'Enriched Flour', 'Palm Oil').", false),
			"quantity": textLeaf(v, "If a quantity or percentage is listed next to an ingredient, extract it exactly as a string (e.g., '5%', 'contains 2% or less of').", true),
			"is_allergen": map[string]interface{}{
				"type":        "boolean",
				"description": "Set to true if this ingredient is highlighted, in bold, or explicitly listed in an allergen warning.",
				"default":     false,
			},
		},
		"required":             []interface{}{"name"},
		"additionalProperties": false,
	}
}

func nutrientSchema(v Version) map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"description": "Represents a single nutrient row from the nutrition facts table.",
		"properties": map[string]interface{}{
			"name": textLeaf(v, "Extract the name of the nutrient (e.g., 'Total Fat', 'Sodium', 'Sugars').", false),
			"quantity": map[string]interface{}{
				"type":        schemaType("number", true),
				"description": "Extract only the numerical value of the nutrient's quantity (e.g., for '10g', extract 10).",
			},
			"unit": textLeaf(v, "Extract the unit of measurement for the nutrient (e.g., 'g', 'mg', 'kcal').", true),
			"daily_value_percent": map[string]interface{}{
				"type":        schemaType("number", true),
				"description": "Extract only the numerical percentage for the Daily Value (%DV), if available (e.g., for '15%', extract 15).",
			},
		},
		"required":             []interface{}{"name"},
		"additionalProperties": false,
	}
}
