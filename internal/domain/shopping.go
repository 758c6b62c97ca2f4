package domain

// ============================================================
// Shopping list
// ============================================================

// Ingredient is one free-text line of a recipe.
type Ingredient struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity"`
	Category string `json:"category"`
}

// Recipe is the input unit of the shopping list aggregator.
type Recipe struct {
	ID          string       `json:"id,omitempty"`
	Title       string       `json:"title,omitempty"`
	Ingredients []Ingredient `json:"ingredients"`
}

// ShoppingItem is one merged ingredient line. Value and Unit are set only when
// the merged quantity is a single numeric amount.
type ShoppingItem struct {
	Name     string   `json:"name"`
	Quantity string   `json:"quantity"`
	Value    *float64 `json:"value,omitempty"`
	Unit     string   `json:"unit,omitempty"`
	Category string   `json:"category"`
}

// ShoppingCategory groups items of the same category.
type ShoppingCategory struct {
	Category string         `json:"category"`
	Items    []ShoppingItem `json:"items"`
}

// ShoppingListRequest is the body for POST /v1/shopping-list.
type ShoppingListRequest struct {
	Recipes []Recipe `json:"recipes"`
}

// ShoppingListResponse is returned by POST /v1/shopping-list.
type ShoppingListResponse struct {
	Categories []ShoppingCategory `json:"categories"`
}
