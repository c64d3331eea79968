package models

import (
	"github.com/erp/datasync/internal/domain/partner"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CustomerModel is the persistence model for the Customer domain entity.
type CustomerModel struct {
	BaseModel
	SourceModel
	TenantID         uuid.UUID              `gorm:"type:uuid;not null;uniqueIndex:idx_customers_tenant_external,priority:1;index:idx_customers_tenant_tax_id,priority:1"`
	Version          int                    `gorm:"not null;default:1"`
	ExternalID       *string                `gorm:"type:varchar(100);uniqueIndex:idx_customers_tenant_external,priority:2"`
	Code             string                 `gorm:"type:varchar(50);index"`
	Name             string                 `gorm:"type:varchar(200);not null"`
	NameKey          string                 `gorm:"type:varchar(200);index"`
	TradeName        string                 `gorm:"type:varchar(200)"`
	TaxID            string                 `gorm:"type:varchar(20);index:idx_customers_tenant_tax_id,priority:2"`
	Email            string                 `gorm:"type:varchar(200)"`
	Phone            string                 `gorm:"type:varchar(50)"`
	Address          string                 `gorm:"type:text"`
	City             string                 `gorm:"type:varchar(100)"`
	State            string                 `gorm:"type:varchar(50)"`
	PostalCode       string                 `gorm:"type:varchar(20)"`
	Status           partner.CustomerStatus `gorm:"type:varchar(20);not null;default:'active'"`
	CreditLimit      decimal.Decimal        `gorm:"type:decimal(18,4);not null;default:0"`
	Notes            string                 `gorm:"type:text"`
	RepresentativeID *uuid.UUID             `gorm:"type:uuid;index"`
	GroupID          *uuid.UUID             `gorm:"type:uuid;index"`
}

// TableName returns the table name for GORM
func (CustomerModel) TableName() string {
	return "customers"
}

// ToDomain converts the persistence model to a domain Customer entity.
func (m *CustomerModel) ToDomain() *partner.Customer {
	return &partner.Customer{
		TenantEntity:     tenantEntity(m.BaseModel, m.TenantID, m.Version),
		SourceTracking:   m.SourceModel.ToDomain(m.ExternalID),
		Code:             m.Code,
		Name:             m.Name,
		NameKey:          m.NameKey,
		TradeName:        m.TradeName,
		TaxID:            m.TaxID,
		Email:            m.Email,
		Phone:            m.Phone,
		Address:          m.Address,
		City:             m.City,
		State:            m.State,
		PostalCode:       m.PostalCode,
		Status:           m.Status,
		CreditLimit:      m.CreditLimit,
		Notes:            m.Notes,
		RepresentativeID: m.RepresentativeID,
		GroupID:          m.GroupID,
	}
}

// FromDomain populates the persistence model from a domain Customer entity.
func (m *CustomerModel) FromDomain(c *partner.Customer) {
	m.FromDomainBaseEntity(c.BaseEntity)
	m.TenantID = c.TenantID
	m.Version = c.Version
	m.ExternalID = m.FromDomainSourceTracking(c.SourceTracking)
	m.Code = c.Code
	m.Name = c.Name
	m.NameKey = c.NameKey
	m.TradeName = c.TradeName
	m.TaxID = c.TaxID
	m.Email = c.Email
	m.Phone = c.Phone
	m.Address = c.Address
	m.City = c.City
	m.State = c.State
	m.PostalCode = c.PostalCode
	m.Status = c.Status
	m.CreditLimit = c.CreditLimit
	m.Notes = c.Notes
	m.RepresentativeID = c.RepresentativeID
	m.GroupID = c.GroupID
}

// CustomerModelFromDomain creates a new persistence model from a domain Customer entity.
func CustomerModelFromDomain(c *partner.Customer) *CustomerModel {
	m := &CustomerModel{}
	m.FromDomain(c)
	return m
}

// RepresentativeModel is the persistence model for the Representative domain entity.
type RepresentativeModel struct {
	BaseModel
	SourceModel
	TenantID       uuid.UUID                    `gorm:"type:uuid;not null;uniqueIndex:idx_representatives_tenant_external,priority:1;index:idx_representatives_tenant_name_key,priority:1"`
	Version        int                          `gorm:"not null;default:1"`
	ExternalID     *string                      `gorm:"type:varchar(100);uniqueIndex:idx_representatives_tenant_external,priority:2"`
	Code           string                       `gorm:"type:varchar(50);index"`
	Name           string                       `gorm:"type:varchar(200);not null"`
	NameKey        string                       `gorm:"type:varchar(200);index:idx_representatives_tenant_name_key,priority:2"`
	Document       string                       `gorm:"type:varchar(20);index"`
	Email          string                       `gorm:"type:varchar(200)"`
	Phone          string                       `gorm:"type:varchar(50)"`
	Region         string                       `gorm:"type:varchar(100)"`
	CommissionRate decimal.Decimal              `gorm:"type:decimal(9,4);not null;default:0"`
	Status         partner.RepresentativeStatus `gorm:"type:varchar(20);not null;default:'active'"`
	SupervisorID   *uuid.UUID                   `gorm:"type:uuid;index"`
}

// TableName returns the table name for GORM
func (RepresentativeModel) TableName() string {
	return "representatives"
}

// ToDomain converts the persistence model to a domain Representative entity.
func (m *RepresentativeModel) ToDomain() *partner.Representative {
	return &partner.Representative{
		TenantEntity:   tenantEntity(m.BaseModel, m.TenantID, m.Version),
		SourceTracking: m.SourceModel.ToDomain(m.ExternalID),
		Code:           m.Code,
		Name:           m.Name,
		NameKey:        m.NameKey,
		Document:       m.Document,
		Email:          m.Email,
		Phone:          m.Phone,
		Region:         m.Region,
		CommissionRate: m.CommissionRate,
		Status:         m.Status,
		SupervisorID:   m.SupervisorID,
	}
}

// FromDomain populates the persistence model from a domain Representative entity.
func (m *RepresentativeModel) FromDomain(r *partner.Representative) {
	m.FromDomainBaseEntity(r.BaseEntity)
	m.TenantID = r.TenantID
	m.Version = r.Version
	m.ExternalID = m.FromDomainSourceTracking(r.SourceTracking)
	m.Code = r.Code
	m.Name = r.Name
	m.NameKey = r.NameKey
	m.Document = r.Document
	m.Email = r.Email
	m.Phone = r.Phone
	m.Region = r.Region
	m.CommissionRate = r.CommissionRate
	m.Status = r.Status
	m.SupervisorID = r.SupervisorID
}

// RepresentativeModelFromDomain creates a new persistence model from a domain Representative entity.
func RepresentativeModelFromDomain(r *partner.Representative) *RepresentativeModel {
	m := &RepresentativeModel{}
	m.FromDomain(r)
	return m
}

// CustomerGroupModel is the persistence model for the CustomerGroup domain entity.
type CustomerGroupModel struct {
	BaseModel
	TenantID   uuid.UUID `gorm:"type:uuid;not null;index"`
	Version    int       `gorm:"not null;default:1"`
	ExternalID *string   `gorm:"type:varchar(100);index"`
	Code       string    `gorm:"type:varchar(50);index"`
	Name       string    `gorm:"type:varchar(200);not null"`
	NameKey    string    `gorm:"type:varchar(200);index"`
	Category   string    `gorm:"type:varchar(100)"`
}

// TableName returns the table name for GORM
func (CustomerGroupModel) TableName() string {
	return "customer_groups"
}

// ToDomain converts the persistence model to a domain CustomerGroup entity.
func (m *CustomerGroupModel) ToDomain() *partner.CustomerGroup {
	g := &partner.CustomerGroup{
		TenantEntity: tenantEntity(m.BaseModel, m.TenantID, m.Version),
		Code:         m.Code,
		Name:         m.Name,
		NameKey:      m.NameKey,
		Category:     m.Category,
	}
	if m.ExternalID != nil {
		g.ExternalID = *m.ExternalID
	}
	return g
}

// FromDomain populates the persistence model from a domain CustomerGroup entity.
func (m *CustomerGroupModel) FromDomain(g *partner.CustomerGroup) {
	m.FromDomainBaseEntity(g.BaseEntity)
	m.TenantID = g.TenantID
	m.Version = g.Version
	m.ExternalID = nullableString(g.ExternalID)
	m.Code = g.Code
	m.Name = g.Name
	m.NameKey = g.NameKey
	m.Category = g.Category
}
