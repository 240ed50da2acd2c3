package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Zoro-chi/FoodOrderingApp/backend"
	"github.com/Zoro-chi/FoodOrderingApp/models"
	"github.com/Zoro-chi/FoodOrderingApp/query"
)

// ProductController serves the menu. Reads go through the query cache;
// admin writes invalidate it.
type ProductController struct {
	products backend.Products
	cache    *query.Cache
}

func NewProductController(products backend.Products, cache *query.Cache) *ProductController {
	return &ProductController{products: products, cache: cache}
}

func (pc *ProductController) GetProducts(c *gin.Context) {
	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	products, err := query.Fetch(ctx, pc.cache, query.ProductsKey, pc.products.ListProducts)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Fetch products success",
		"count":   len(products),
		"data":    products,
	})
}

func (pc *ProductController) GetProduct(c *gin.Context) {
	id, ok := parseID(c, "id", "product")
	if !ok {
		return
	}

	product, err := pc.product(c, id)
	if err != nil {
		respondError(c, err)
		return
	}
	fetchSuccess(c, product)
}

func (pc *ProductController) product(c *gin.Context, id int64) (*models.Product, error) {
	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	return query.Fetch(ctx, pc.cache, query.ProductKey(id), func(ctx context.Context) (*models.Product, error) {
		return pc.products.GetProduct(ctx, id)
	})
}
