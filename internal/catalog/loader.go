package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a catalog file:
//
//	admin:
//	  display_name: Administrator
//	  deletable: false
//	  superuser: true
//	  permissions:
//	    view_logs: true
//	    manage_users: {granted: true, description: Manage users}
//
// Role order follows the file. deletable defaults to true when omitted.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// FromPath loads the catalog at path, or returns the built-in catalog when
// path is empty.
func FromPath(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

type roleDoc struct {
	DisplayName string    `yaml:"display_name"`
	Deletable   *bool     `yaml:"deletable"`
	Superuser   bool      `yaml:"superuser"`
	Guest       bool      `yaml:"guest"`
	Permissions yaml.Node `yaml:"permissions"`
}

type grantDoc struct {
	Granted     bool   `yaml:"granted"`
	Description string `yaml:"description"`
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	c := &Catalog{}
	if len(root.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalid)
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must be a mapping of role keys", ErrInvalid)
	}

	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i].Value
		var rd roleDoc
		if err := doc.Content[i+1].Decode(&rd); err != nil {
			return nil, fmt.Errorf("%w: role %q: %v", ErrInvalid, key, err)
		}

		role := Role{
			Key:         key,
			DisplayName: rd.DisplayName,
			Deletable:   rd.Deletable == nil || *rd.Deletable,
			Superuser:   rd.Superuser,
			Guest:       rd.Guest,
		}
		grants, err := parseGrants(&rd.Permissions)
		if err != nil {
			return nil, fmt.Errorf("%w: role %q: %v", ErrInvalid, key, err)
		}
		role.Permissions = grants
		c.Roles = append(c.Roles, role)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func parseGrants(n *yaml.Node) ([]Grant, error) {
	if n.Kind == 0 {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("permissions must be a mapping")
	}

	var grants []Grant
	for i := 0; i+1 < len(n.Content); i += 2 {
		name := n.Content[i].Value
		val := n.Content[i+1]

		g := Grant{Name: name}
		switch val.Kind {
		case yaml.ScalarNode:
			if err := val.Decode(&g.Granted); err != nil {
				return nil, fmt.Errorf("permission %q: %v", name, err)
			}
		case yaml.MappingNode:
			var gd grantDoc
			if err := val.Decode(&gd); err != nil {
				return nil, fmt.Errorf("permission %q: %v", name, err)
			}
			g.Granted = gd.Granted
			g.Description = gd.Description
		default:
			return nil, fmt.Errorf("permission %q: expected bool or mapping", name)
		}
		grants = append(grants, g)
	}
	return grants, nil
}
