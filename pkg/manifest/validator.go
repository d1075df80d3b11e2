package manifest

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Validator checks manifests. Known plugin types are only enforced when set.
type Validator struct {
	ClientTypes    []string
	ParserTypes    []string
	MergeRuleTypes []string
}

func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) Validate(src *ImportSource) error {
	if src == nil {
		return fmt.Errorf("manifest is nil")
	}

	var errs []error

	if err := v.validateAPIVersion(src.APIVersion); err != nil {
		errs = append(errs, err)
	}

	if src.Kind != KindImportSource {
		errs = append(errs, fmt.Errorf("kind must be %s, got: %s", KindImportSource, src.Kind))
	}

	if src.Name == "" {
		errs = append(errs, fmt.Errorf("metadata.name is required"))
	}

	errs = append(errs, v.validateSpec(&src.Spec)...)

	return errors.Join(errs...)
}

func (v *Validator) validateSpec(spec *ImportSourceSpec) []error {
	var errs []error

	if spec.Source == "" {
		errs = append(errs, fmt.Errorf("spec.source is required"))
	}

	if spec.EntityType == "" {
		errs = append(errs, fmt.Errorf("spec.entityType is required"))
	}

	switch spec.IDStyle {
	case "", "keep", "upper", "lower":
	default:
		errs = append(errs, fmt.Errorf("invalid idStyle: %s", spec.IDStyle))
	}

	if _, err := spec.DeletionMode(); err != nil {
		errs = append(errs, err)
	}

	if _, err := spec.SyncMode(); err != nil {
		errs = append(errs, err)
	}

	for field, value := range map[string]string{
		"syncPeriod":    spec.SyncPeriod,
		"fetchTimeout":  spec.FetchTimeout,
		"fullSyncEvery": spec.FullSyncEvery,
	} {
		if value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", field, err))
			continue
		}
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", field))
		}
	}

	if spec.Workers < 0 {
		errs = append(errs, fmt.Errorf("spec.workers must not be negative"))
	}

	if err := checkType("spec.client.type", spec.Client.Type, v.ClientTypes); err != nil {
		errs = append(errs, err)
	}

	if err := checkType("spec.parser.type", spec.Parser.Type, v.ParserTypes); err != nil {
		errs = append(errs, err)
	}

	names := make(map[string]bool, len(spec.MergeRules))
	for i, rule := range spec.MergeRules {
		if rule.Name == "" {
			errs = append(errs, fmt.Errorf("spec.mergeRules[%d].name is required", i))
		} else if names[rule.Name] {
			errs = append(errs, fmt.Errorf("duplicate merge rule name: %s", rule.Name))
		}
		names[rule.Name] = true

		if err := checkType(fmt.Sprintf("spec.mergeRules[%d].type", i), rule.Type, v.MergeRuleTypes); err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}

func (v *Validator) validateAPIVersion(apiVersion string) error {
	if apiVersion != SupportedAPIVersion {
		return fmt.Errorf(
			"unsupported apiVersion: %s (expected %s)",
			apiVersion,
			SupportedAPIVersion,
		)
	}
	return nil
}

func checkType(field, value string, known []string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(known) > 0 && !slices.Contains(known, value) {
		return fmt.Errorf("%s: unknown type %s", field, value)
	}
	return nil
}
