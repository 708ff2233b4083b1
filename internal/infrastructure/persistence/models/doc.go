// Package models contains the GORM persistence models for companies,
// clients and invoices. Domain types stay free of ORM tags; repositories
// convert through the ToDomain and FromDomain mappers defined here.
package models
