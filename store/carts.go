package store

import (
	"context"

	"mollie-ideal/models"
)

// AddCartItem puts a product in a customer's cart
func (r *Repository) AddCartItem(ctx context.Context, item *models.CartItem) error {
	return r.conn(ctx).Create(item).Error
}

// CartItems lists a customer's cart
func (r *Repository) CartItems(ctx context.Context, customerID string) ([]models.CartItem, error) {
	var items []models.CartItem
	err := r.conn(ctx).Where("customer_id = ?", customerID).Order("id").Find(&items).Error
	return items, err
}

// ClearItems empties a customer's cart
func (r *Repository) ClearItems(ctx context.Context, customerID string) error {
	return r.conn(ctx).Where("customer_id = ?", customerID).Delete(&models.CartItem{}).Error
}
