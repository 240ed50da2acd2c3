package controllers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Zoro-chi/FoodOrderingApp/models"
	"github.com/Zoro-chi/FoodOrderingApp/query"
)

// productBody accepts the price as a JSON number or as the raw form text.
type productBody struct {
	Name  string  `json:"name"`
	Price any     `json:"price"`
	Image *string `json:"image"`
}

func (b productBody) input() models.ProductInput {
	return models.ProductInput{Name: b.Name, Price: priceText(b.Price), Image: b.Image}
}

func priceText(v any) string {
	switch p := v.(type) {
	case nil:
		return ""
	case string:
		return p
	case float64:
		return strconv.FormatFloat(p, 'f', -1, 64)
	default:
		return fmt.Sprint(p)
	}
}

func (pc *ProductController) bindProduct(c *gin.Context) (models.Product, bool) {
	var body productBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return models.Product{}, false
	}
	product, err := body.input().Validate()
	if err != nil {
		respondError(c, err)
		return models.Product{}, false
	}
	return product, true
}

func (pc *ProductController) CreateProduct(c *gin.Context) {
	product, ok := pc.bindProduct(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	created, err := pc.products.InsertProduct(ctx, product)
	if err != nil {
		respondError(c, err)
		return
	}
	pc.cache.Invalidate(query.ProductsKey)

	c.JSON(http.StatusCreated, gin.H{"message": "Product created", "data": created})
}

func (pc *ProductController) UpdateProduct(c *gin.Context) {
	id, ok := parseID(c, "id", "product")
	if !ok {
		return
	}
	product, ok := pc.bindProduct(c)
	if !ok {
		return
	}
	product.ID = id

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	updated, err := pc.products.UpdateProduct(ctx, product)
	if err != nil {
		respondError(c, err)
		return
	}
	// ProductsKey is a prefix of every product detail key.
	pc.cache.Invalidate(query.ProductsKey)

	c.JSON(http.StatusOK, gin.H{"message": "Product updated", "data": updated})
}

func (pc *ProductController) DeleteProduct(c *gin.Context) {
	id, ok := parseID(c, "id", "product")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	if err := pc.products.DeleteProduct(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	pc.cache.Invalidate(query.ProductsKey)

	c.JSON(http.StatusOK, gin.H{"message": "Product deleted"})
}
