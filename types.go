package docindex

import (
	"fmt"
	"strings"
)

type PropertyType int

const (
	TypeAny PropertyType = iota
	TypeBoolean
	TypeInteger
	TypeShort
	TypeLong
	TypeFloat
	TypeDouble
	TypeByte
	TypeString
	TypeDate
	TypeBinary
	TypeLink
	TypeEmbedded
	TypeEmbeddedList
	TypeEmbeddedSet
	TypeEmbeddedMap
	TypeLinkList
	TypeLinkSet
	TypeLinkMap
)

var propertyTypeNames = [...]string{
	TypeAny:          "ANY",
	TypeBoolean:      "BOOLEAN",
	TypeInteger:      "INTEGER",
	TypeShort:        "SHORT",
	TypeLong:         "LONG",
	TypeFloat:        "FLOAT",
	TypeDouble:       "DOUBLE",
	TypeByte:         "BYTE",
	TypeString:       "STRING",
	TypeDate:         "DATE",
	TypeBinary:       "BINARY",
	TypeLink:         "LINK",
	TypeEmbedded:     "EMBEDDED",
	TypeEmbeddedList: "EMBEDDEDLIST",
	TypeEmbeddedSet:  "EMBEDDEDSET",
	TypeEmbeddedMap:  "EMBEDDEDMAP",
	TypeLinkList:     "LINKLIST",
	TypeLinkSet:      "LINKSET",
	TypeLinkMap:      "LINKMAP",
}

func (t PropertyType) String() string {
	if t >= 0 && int(t) < len(propertyTypeNames) {
		return propertyTypeNames[t]
	}
	return fmt.Sprintf("PropertyType(%d)", int(t))
}

func ParsePropertyType(s string) (PropertyType, error) {
	for i, name := range propertyTypeNames {
		if strings.EqualFold(name, s) {
			return PropertyType(i), nil
		}
	}
	return TypeAny, fmt.Errorf("unknown property type %q", s)
}

func (t PropertyType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *PropertyType) UnmarshalText(text []byte) error {
	v, err := ParsePropertyType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func (t PropertyType) IsCollection() bool {
	switch t {
	case TypeEmbeddedList, TypeEmbeddedSet, TypeEmbeddedMap, TypeLinkList, TypeLinkSet, TypeLinkMap:
		return true
	default:
		return false
	}
}

func (t PropertyType) IsMap() bool {
	return t == TypeEmbeddedMap || t == TypeLinkMap
}

func (t PropertyType) IsList() bool {
	return t == TypeEmbeddedList || t == TypeLinkList
}

func (t PropertyType) IsSet() bool {
	return t == TypeEmbeddedSet || t == TypeLinkSet
}

// IsLinkContainer reports whether the collection holds references only.
func (t PropertyType) IsLinkContainer() bool {
	return t == TypeLinkList || t == TypeLinkSet || t == TypeLinkMap
}

// IsIndexable reports whether values of this type can be index key components.
func (t PropertyType) IsIndexable() bool {
	switch t {
	case TypeBoolean, TypeInteger, TypeShort, TypeLong, TypeByte, TypeFloat, TypeDouble,
		TypeString, TypeDate, TypeBinary, TypeLink:
		return true
	default:
		return false
	}
}
