package handlers

import "github.com/gofiber/fiber/v2"

// TokenResponse is what clients embed in their next mutating request.
type TokenResponse struct {
	NameKey  string `json:"name_key"`
	ValueKey string `json:"value_key"`
	Name     string `json:"name"`
	Value    string `json:"value"`
}

// Form serves the token pair the CSRF middleware attached to the request.
type Form struct {
	NameKey  string
	ValueKey string
}

func NewForm(nameKey, valueKey string) *Form {
	return &Form{NameKey: nameKey, ValueKey: valueKey}
}

// Token returns the active pair as JSON.
func (f *Form) Token(c *fiber.Ctx) error {
	name, _ := c.Locals(f.NameKey).(string)
	value, _ := c.Locals(f.ValueKey).(string)
	if name == "" || value == "" {
		return fiber.NewError(fiber.StatusInternalServerError, "CSRF middleware not installed")
	}
	return c.JSON(TokenResponse{
		NameKey:  f.NameKey,
		ValueKey: f.ValueKey,
		Name:     name,
		Value:    value,
	})
}

// Submit only runs once the middleware accepted the token. The reply carries
// the replacement pair for the next submission.
func (f *Form) Submit(c *fiber.Ctx) error {
	name, _ := c.Locals(f.NameKey).(string)
	value, _ := c.Locals(f.ValueKey).(string)
	return c.JSON(fiber.Map{
		"status": "accepted",
		"next": TokenResponse{
			NameKey:  f.NameKey,
			ValueKey: f.ValueKey,
			Name:     name,
			Value:    value,
		},
	})
}
