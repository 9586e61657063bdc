// Package db wires the GORM connection, migrations, and seed data.
package db

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/diewo77/invoiceflow/internal/models"
)

// Connect opens the PostgreSQL connection, retrying briefly to let the
// database come up first in containerized setups.
func Connect(dsn string) (*gorm.DB, error) {
	var conn *gorm.DB
	var err error
	for i := 0; i < 5; i++ {
		conn, err = gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
		if err == nil {
			return conn, nil
		}
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("connect to database: %w", err)
}

// Migrate applies the schema for all models.
func Migrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(
		&models.User{},
		&models.Client{},
		&models.Invoice{},
		&models.InvoiceItem{},
		&models.Notification{},
		&models.AuditLog{},
	); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Seed creates the default admin and demo accounts if no users exist yet.
func Seed(conn *gorm.DB) error {
	var count int64
	if err := conn.Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	admin := models.User{
		Email:         "admin@invoiceflow.local",
		Name:          "Administrator",
		Role:          models.RoleAdmin,
		CompanyName:   "My Company",
		InvoicePrefix: "INV",
	}
	if err := admin.SetPassword("admin123"); err != nil {
		return err
	}
	if err := conn.Create(&admin).Error; err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	demo := models.User{
		Email: "user@invoiceflow.local",
		Name:  "Demo User",
		Role:  models.RoleUser,
	}
	if err := demo.SetPassword("user123"); err != nil {
		return err
	}
	if err := conn.Create(&demo).Error; err != nil {
		return fmt.Errorf("seed demo user: %w", err)
	}
	return nil
}
