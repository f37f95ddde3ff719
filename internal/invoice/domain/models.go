package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Invoice is the local read cache of a SIIMP invoice merged with DAC data.
// Rows are only written by sync; the upstream remains the system of record.
type Invoice struct {
	ID               int64           `gorm:"primaryKey;autoIncrement:false" json:"id"`
	OwnerID          *int64          `gorm:"column:owner_id" json:"owner_id"`
	OwnerName        *string         `gorm:"column:owner_name" json:"owner_name"`
	OwnerCNPJ        *string         `gorm:"column:owner_cnpj;index:idx_invoices_owner_cnpj" json:"owner_cnpj"`
	InvoiceNumber    string          `gorm:"column:invoice_number;not null;index:idx_invoices_number" json:"invoice_number"`
	InvoiceNumberInt *int64          `gorm:"column:invoice_number_int;index:idx_invoices_number_int" json:"-"`
	InvoiceStatus    Status          `gorm:"column:invoice_status;not null;index:idx_invoices_status" json:"invoice_status"`
	Total            decimal.Decimal `gorm:"column:total;type:numeric;not null" json:"total"`
	Maturity         *time.Time      `gorm:"column:maturity;type:date" json:"maturity"`
	PaymentForm      *int            `gorm:"column:payment_form" json:"payment_form"`
	CreatedAt        *time.Time      `gorm:"column:created_at;autoCreateTime:false" json:"created_at"`
	InvoiceObs       *string         `gorm:"column:invoice_obs" json:"invoice_obs"`
	CteID            *int64          `gorm:"column:cte_id" json:"cte_id"`
	Serie            *string         `gorm:"column:serie" json:"serie"`
	Number           *int64          `gorm:"column:number" json:"number"`
	Raw              datatypes.JSON  `gorm:"column:raw" json:"raw,omitempty"`
	SyncedAt         time.Time       `gorm:"column:synced_at;not null" json:"synced_at"`
}

func (Invoice) TableName() string {
	return "invoices"
}

// Status mirrors the SIIMP invoice_status enumeration.
type Status int

const (
	StatusRegistered Status = 0
	StatusPaid       Status = 1
	StatusCanceled   Status = 2
	StatusIssued     Status = 3
)

func (s Status) Valid() bool {
	return s >= StatusRegistered && s <= StatusIssued
}

func (s Status) String() string {
	switch s {
	case StatusRegistered:
		return "registered"
	case StatusPaid:
		return "paid"
	case StatusCanceled:
		return "canceled"
	case StatusIssued:
		return "issued"
	default:
		return "unknown"
	}
}

// Label is the operator-facing (pt-BR) name shown in exports and reports.
func (s Status) Label() string {
	switch s {
	case StatusRegistered:
		return "Cadastrada"
	case StatusPaid:
		return "Liquidada"
	case StatusCanceled:
		return "Cancelada"
	case StatusIssued:
		return "Emitida"
	default:
		return "Desconhecida"
	}
}
