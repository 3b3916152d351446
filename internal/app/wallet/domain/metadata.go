package domain

import (
	"fmt"
	"maps"
)

// 常用 referenceType
const (
	ReferenceTypePayment         = "PAYMENT"
	ReferenceTypeEnrollment      = "ENROLLMENT"
	ReferenceTypeClassFee        = "CLASS_FEE"
	ReferenceTypeCourse          = "COURSE"
	ReferenceTypeTopUp           = "TOP_UP"
	ReferenceTypeRefund          = "REFUND"
	ReferenceTypeAdminAdjustment = "ADMIN_ADJUSTMENT"
)

// PaymentReferenceTypes 計入「錢包付款用量」的 referenceType
var PaymentReferenceTypes = []string{
	ReferenceTypePayment,
	ReferenceTypeEnrollment,
	ReferenceTypeClassFee,
	ReferenceTypeCourse,
}

// metadata key 約定
const (
	MetaActorID  = "actorId"
	MetaRefundOf = "refundOf"
	MetaItemID   = "itemId"
)

// Metadata 流水的擴充欄位
type Metadata map[string]any

// With 回傳加上 key/value 的新 Metadata，不修改原本的 map
func (m Metadata) With(key string, value any) Metadata {
	out := make(Metadata, len(m)+1)
	maps.Copy(out, m)
	out[key] = value
	return out
}

// String 取得字串型態的值
func (m Metadata) String(key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Clone 淺拷貝
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

// MetadataSchema 某個 referenceType 的 metadata 約定
type MetadataSchema struct {
	// Required 必填且必須是非空字串的 key
	Required []string
	// Strings 若出現則必須是字串的 key
	Strings []string
}

var metadataSchemas = map[string]MetadataSchema{
	ReferenceTypeAdminAdjustment: {Required: []string{MetaActorID}},
	ReferenceTypeRefund:          {Strings: []string{MetaRefundOf, MetaActorID}},
	ReferenceTypePayment:         {Strings: []string{MetaItemID}},
	ReferenceTypeEnrollment:      {Strings: []string{MetaItemID}},
	ReferenceTypeClassFee:        {Strings: []string{MetaItemID}},
	ReferenceTypeCourse:          {Strings: []string{MetaItemID}},
}

// SchemaFor 回傳 referenceType 的約定，未登記的類型不做檢查
func SchemaFor(referenceType string) (MetadataSchema, bool) {
	s, ok := metadataSchemas[referenceType]
	return s, ok
}

// ValidateMetadata 依 referenceType 檢查 metadata
func ValidateMetadata(referenceType string, m Metadata) error {
	schema, ok := SchemaFor(referenceType)
	if !ok {
		return nil
	}
	for _, key := range schema.Required {
		s, ok := m.String(key)
		if !ok || s == "" {
			return fmt.Errorf("%w: %s requires %q", ErrInvalidMetadata, referenceType, key)
		}
	}
	for _, key := range schema.Strings {
		if _, present := m[key]; !present {
			continue
		}
		if _, ok := m.String(key); !ok {
			return fmt.Errorf("%w: %q must be a string", ErrInvalidMetadata, key)
		}
	}
	return nil
}
