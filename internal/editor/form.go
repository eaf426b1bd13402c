package editor

import (
	"github.com/mbp-platform/envmodel/internal/graph"
	"github.com/mbp-platform/envmodel/internal/models"
)

// Form field names accepted by EditForm.
const (
	FieldName     = "name"
	FieldType     = "type"
	FieldMAC      = "mac"
	FieldIP       = "ip"
	FieldUsername = "username"
	FieldPassword = "password"
	FieldRSAKey   = "rsaKey"
	FieldAdapter  = "adapter"
)

type form struct {
	elementID string
	device    bool
	remote    bool
	attrs     graph.Attributes
	dirty     bool
}

func loadForm(n graph.Node) *form {
	return &form{
		elementID: n.ElementID,
		device:    n.Kind == models.NodeTypeDevice,
		remote:    n.Kind.IsRemote(),
		attrs:     n.Attributes,
	}
}

// set writes one field. Floorplan nodes have no form fields; device-only
// and component-only fields are rejected on the other kind.
func (f *form) set(field, value string) bool {
	if !f.remote {
		return false
	}
	a := &f.attrs
	switch field {
	case FieldName:
		a.Name = value
	case FieldType:
		a.EntityType = value
	case FieldMAC, FieldIP, FieldUsername, FieldPassword, FieldRSAKey:
		if !f.device {
			return false
		}
		switch field {
		case FieldMAC:
			a.MAC = value
		case FieldIP:
			a.IP = value
		case FieldUsername:
			a.Username = value
		case FieldPassword:
			a.Password = value
		case FieldRSAKey:
			a.RSAKey = value
		}
	case FieldAdapter:
		if f.device {
			return false
		}
		a.Adapter = value
	default:
		return false
	}
	f.dirty = true
	return true
}
