package config

import "github.com/go-playground/validator/v10"

// Service holds the validator a Manager checks every freshly merged
// Config against. One Service is safe to share across Managers;
// NewManager(nil) builds its own.
type Service struct {
	validate *validator.Validate
}

func NewService() *Service {
	return &Service{validate: validator.New()}
}

// Validate runs struct-tag validation over cfg, returning every
// constraint violation collapsed into one error.
func (s *Service) Validate(cfg *Config) error {
	return s.validate.Struct(cfg)
}
