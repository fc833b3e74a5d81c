package catalog

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/thoas/go-funk"
	"gopkg.in/yaml.v3"
)

// Service is one purchasable entry in the catalog: a display name, the
// provisioning service code used by the number provider, and its fixed price.
type Service struct {
	Name  string `yaml:"name"`
	Code  string `yaml:"code"`
	Price string `yaml:"price"`
}

// Amount returns the numeric part of the price ("RM1.68" -> "1.68").
func (s Service) Amount() string {
	return strings.TrimPrefix(s.Price, "RM")
}

// Catalog holds the immutable service list, loaded once at startup.
type Catalog struct {
	services []Service
}

var defaultServices = []Service{
	{Name: "Zus Coffee", Code: "aik", Price: "RM1.68"},
	{Name: "Beutea", Code: "ot", Price: "RM1.68"},
	{Name: "Chagee", Code: "bwx", Price: "RM1.68"},
	{Name: "Gigi Coffee", Code: "ot", Price: "RM1.68"},
	{Name: "Luckin Coffee", Code: "ot", Price: "RM1.68"},
	{Name: "Tealive", Code: "avb", Price: "RM1.68"},
	{Name: "Kenangan Coffee", Code: "ot", Price: "RM1.68"},
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return &Catalog{services: defaultServices}
}

// Load reads a catalog override from a YAML file. An empty path or a missing
// file falls back to the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			glog.Warningf("catalog file %s not found, using built-in catalog", path)
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	var services []Service
	if err := yaml.Unmarshal(data, &services); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("catalog file %s contains no services", path)
	}
	glog.Infof("loaded %d services from %s", len(services), path)
	return &Catalog{services: services}, nil
}

// Services returns the catalog entries in menu order.
func (c *Catalog) Services() []Service {
	return c.services
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.services)
}

// Select resolves a customer reply to a catalog entry. Accepts a 1-based
// numeric index or any input containing a service name.
func (c *Catalog) Select(input string) (Service, bool) {
	selection := strings.TrimSpace(input)
	if n, err := strconv.Atoi(selection); err == nil {
		if n >= 1 && n <= len(c.services) {
			return c.services[n-1], true
		}
		return Service{}, false
	}

	upper := strings.ToUpper(selection)
	found := funk.Find(c.services, func(s Service) bool {
		return strings.Contains(upper, strings.ToUpper(s.Name))
	})
	if svc, ok := found.(Service); ok {
		return svc, true
	}
	return Service{}, false
}

// ByName returns the entry with the given display name.
func (c *Catalog) ByName(name string) (Service, bool) {
	found := funk.Find(c.services, func(s Service) bool {
		return s.Name == name
	})
	if svc, ok := found.(Service); ok {
		return svc, true
	}
	return Service{}, false
}

// Menu renders the selection prompt sent to customers.
func (c *Catalog) Menu() string {
	var b strings.Builder
	b.WriteString("Please select your service by replying with the number:\n\n")
	for i, s := range c.services {
		fmt.Fprintf(&b, "%d. %s - %s\n", i+1, s.Name, s.Price)
	}
	fmt.Fprintf(&b, "\nReply with the number (1-%d)", len(c.services))
	return b.String()
}
