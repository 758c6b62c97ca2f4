package shopping_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
	"github.com/boddenberg/phase-lifecycle-go/internal/shopping"
)

func recipe(ings ...domain.Ingredient) domain.Recipe {
	return domain.Recipe{Ingredients: ings}
}

func find(t *testing.T, list []domain.ShoppingCategory, cat, name string) domain.ShoppingItem {
	t.Helper()
	for _, c := range list {
		if c.Category != cat {
			continue
		}
		for _, it := range c.Items {
			if it.Name == name {
				return it
			}
		}
	}
	t.Fatalf("item %s/%s not found in %+v", cat, name, list)
	return domain.ShoppingItem{}
}

func TestAggregate_SumsSameUnit(t *testing.T) {
	list, err := shopping.Aggregate([]domain.Recipe{
		recipe(domain.Ingredient{Name: "Riz", Quantity: "200g", Category: "Féculents"}),
		recipe(domain.Ingredient{Name: " riz ", Quantity: "150 g", Category: "Féculents"}),
		recipe(domain.Ingredient{Name: "Huile d'olive", Quantity: "1,5 cl", Category: "Épicerie"}),
		recipe(domain.Ingredient{Name: "huile d'olive", Quantity: "2cl", Category: "Épicerie"}),
	})
	require.NoError(t, err)

	riz := find(t, list, "Féculents", "Riz")
	assert.Equal(t, "350g", riz.Quantity)
	require.NotNil(t, riz.Value)
	assert.Equal(t, 350.0, *riz.Value)
	assert.Equal(t, "g", riz.Unit)

	huile := find(t, list, "Épicerie", "Huile d'olive")
	assert.Equal(t, "3.5cl", huile.Quantity)
}

func TestAggregate_UnitMismatchConcatenates(t *testing.T) {
	list, err := shopping.Aggregate([]domain.Recipe{
		recipe(domain.Ingredient{Name: "Sel", Quantity: "200g", Category: "Épices"}),
		recipe(domain.Ingredient{Name: "sel", Quantity: "1 pincée", Category: "Épices"}),
	})
	require.NoError(t, err)

	sel := find(t, list, "Épices", "Sel")
	assert.Equal(t, "200g + 1 pincée", sel.Quantity)
	assert.Nil(t, sel.Value)
}

func TestAggregate_OpaqueFragmentsNotDuplicated(t *testing.T) {
	list, err := shopping.Aggregate([]domain.Recipe{
		recipe(domain.Ingredient{Name: "Poivre", Quantity: "à volonté", Category: "Épices"}),
		recipe(domain.Ingredient{Name: "poivre", Quantity: "À volonté", Category: "Épices"}),
		recipe(domain.Ingredient{Name: "poivre", Quantity: "2g", Category: "Épices"}),
		recipe(domain.Ingredient{Name: "poivre", Quantity: "3g", Category: "Épices"}),
	})
	require.NoError(t, err)

	assert.Equal(t, "à volonté + 5g", find(t, list, "Épices", "Poivre").Quantity)
}

func TestAggregate_Idempotent(t *testing.T) {
	recipes := []domain.Recipe{
		recipe(
			domain.Ingredient{Name: "Courgette", Quantity: "2", Category: "Légumes"},
			domain.Ingredient{Name: "Sel", Quantity: "1 pincée", Category: "Épices"},
		),
		recipe(
			domain.Ingredient{Name: "courgette", Quantity: "1", Category: "Légumes"},
			domain.Ingredient{Name: "Sel", Quantity: "5g", Category: "Épices"},
		),
	}

	first, err := shopping.Aggregate(recipes)
	require.NoError(t, err)
	second, err := shopping.Aggregate(recipes)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "3", find(t, first, "Légumes", "Courgette").Quantity)
}

func TestAggregate_SortingAndDefaultCategory(t *testing.T) {
	list, err := shopping.Aggregate([]domain.Recipe{
		recipe(
			domain.Ingredient{Name: "Tomate", Quantity: "2", Category: "Légumes"},
			domain.Ingredient{Name: "Ail", Quantity: "1 gousse", Category: "Légumes"},
			domain.Ingredient{Name: "Eau", Quantity: "1l"},
			domain.Ingredient{Name: "Basilic", Quantity: "", Category: "Aromates"},
		),
	})
	require.NoError(t, err)
	require.Len(t, list, 3)

	assert.Equal(t, "Aromates", list[0].Category)
	assert.Equal(t, shopping.DefaultCategory, list[1].Category)
	assert.Equal(t, "Légumes", list[2].Category)
	assert.Equal(t, "Ail", list[2].Items[0].Name)
	assert.Equal(t, "Tomate", list[2].Items[1].Name)
	assert.Equal(t, "", list[0].Items[0].Quantity)
}

func TestAggregate_SameNameDifferentCategoryNotMerged(t *testing.T) {
	list, err := shopping.Aggregate([]domain.Recipe{
		recipe(domain.Ingredient{Name: "Citron", Quantity: "1", Category: "Fruits"}),
		recipe(domain.Ingredient{Name: "Citron", Quantity: "2", Category: "Épicerie"}),
	})
	require.NoError(t, err)

	assert.Equal(t, "1", find(t, list, "Fruits", "Citron").Quantity)
	assert.Equal(t, "2", find(t, list, "Épicerie", "Citron").Quantity)
}

func TestAggregate_EmptyNameRejected(t *testing.T) {
	_, err := shopping.Aggregate([]domain.Recipe{
		recipe(domain.Ingredient{Name: "  ", Quantity: "1"}),
	})
	var ve *domain.ErrValidation
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "recipes[0].ingredients[0].name", ve.Field)
}

func TestAggregate_SumHasNoFloatNoise(t *testing.T) {
	list, err := shopping.Aggregate([]domain.Recipe{
		recipe(domain.Ingredient{Name: "Farine", Quantity: "0.1kg", Category: "Épicerie"}),
		recipe(domain.Ingredient{Name: "Farine", Quantity: "0,2 kg", Category: "Épicerie"}),
	})
	require.NoError(t, err)

	item := find(t, list, "Épicerie", "Farine")
	assert.Equal(t, "0.3kg", item.Quantity)
	require.NotNil(t, item.Value)
	assert.Equal(t, 0.3, *item.Value)
	assert.Equal(t, "kg", item.Unit)
}

func TestAggregate_CategoryCaseFolded(t *testing.T) {
	list, err := shopping.Aggregate([]domain.Recipe{
		recipe(domain.Ingredient{Name: "Courgette", Quantity: "2", Category: "Légumes"}),
		recipe(domain.Ingredient{Name: "Poireau", Quantity: "1", Category: "légumes "}),
	})
	require.NoError(t, err)

	require.Len(t, list, 1)
	assert.Equal(t, "Légumes", list[0].Category, "first spelling wins")
	assert.Len(t, list[0].Items, 2)
	assert.Equal(t, "Légumes", find(t, list, "Légumes", "Poireau").Category)
}
