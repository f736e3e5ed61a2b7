package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
)

// LoadProfile reads a YAML domain profile. An empty path yields the built-in profile.
func LoadProfile(path string) (domain.DomainProfile, error) {
	if strings.TrimSpace(path) == "" {
		profile := domain.DefaultProfile()
		if err := profile.Compile(); err != nil {
			return domain.DomainProfile{}, err
		}
		return profile, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.DomainProfile{}, domain.WrapError(domain.ErrMisconfigured, "read domain profile", err)
	}
	return ParseProfile(raw)
}

func ParseProfile(raw []byte) (domain.DomainProfile, error) {
	var profile domain.DomainProfile
	if err := yaml.Unmarshal(raw, &profile); err != nil {
		return domain.DomainProfile{}, domain.WrapError(domain.ErrMisconfigured, "parse domain profile", err)
	}
	if strings.TrimSpace(profile.Name) == "" {
		return domain.DomainProfile{}, domain.WrapError(domain.ErrMisconfigured, "parse domain profile", fmt.Errorf("profile name is required"))
	}
	if err := profile.Compile(); err != nil {
		return domain.DomainProfile{}, err
	}
	return profile, nil
}
