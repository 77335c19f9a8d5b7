// Package template loads and validates deployment templates from disk.
package template

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/fixdeploy/fixdeploy/internal/interfaces"
)

// FileDeploymentSpec is the payload of a file_deployment step
type FileDeploymentSpec struct {
	Files      []string `mapstructure:"files" validate:"required,min=1,dive,required"`
	TargetVMs  []string `mapstructure:"targetVMs" validate:"required,min=1,dive,required"`
	TargetPath string   `mapstructure:"targetPath" validate:"required"`
	TargetUser string   `mapstructure:"targetUser"`
	FTNumber   string   `mapstructure:"ftNumber"`
}

// SQLDeploymentSpec is the payload of a sql_deployment step
type SQLDeploymentSpec struct {
	Files        []string `mapstructure:"files" validate:"required,min=1,dive,required"`
	DBConnection string   `mapstructure:"dbConnection" validate:"required"`
	DBUser       string   `mapstructure:"dbUser" validate:"required"`
	DBPassword   string   `mapstructure:"dbPassword"`
	FTNumber     string   `mapstructure:"ftNumber"`
}

// ServiceRestartSpec is the payload of a service_restart step
type ServiceRestartSpec struct {
	Service   string   `mapstructure:"service" validate:"required"`
	Operation string   `mapstructure:"operation" validate:"required,oneof=start stop restart status"`
	TargetVMs []string `mapstructure:"targetVMs" validate:"required,min=1,dive,required"`
}

// AnsiblePlaybookSpec is the payload of an ansible_playbook step
type AnsiblePlaybookSpec struct {
	Playbook string `mapstructure:"playbook" validate:"required"`
}

// HelmUpgradeSpec is the payload of a helm_upgrade step
type HelmUpgradeSpec struct {
	DeploymentType string `mapstructure:"helmDeploymentType" validate:"required"`
}

// SpecDecoder decodes a step's raw payload into its typed spec and
// validates it. A decode or validation failure is a step failure, never
// a panic; the raw payload is authored by operators.
type SpecDecoder struct {
	validate *validator.Validate
}

// NewSpecDecoder creates a decoder with struct validation enabled
func NewSpecDecoder() *SpecDecoder {
	return &SpecDecoder{
		validate: validator.New(),
	}
}

// Decode decodes step.Spec into out, which must be a pointer to one of the
// spec structs, then validates the result
func (d *SpecDecoder) Decode(step interfaces.Step, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build spec decoder: %w", err)
	}

	if err := decoder.Decode(step.Spec); err != nil {
		return fmt.Errorf("invalid %s spec: %w", step.Type, err)
	}

	if err := d.validate.Struct(out); err != nil {
		return fmt.Errorf("invalid %s spec: %w", step.Type, err)
	}

	return nil
}
