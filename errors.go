// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package proteodiff

import "fmt"

// IntegrityError reports data that cannot be analyzed: missing
// values after imputation, empty subsets, degenerate designs.
// Contrast is empty for matrix-level failures.
type IntegrityError struct {
	Contrast string
	Rule     string
	Detail   string
}

func (e *IntegrityError) Error() string {
	if e.Contrast == "" {
		return fmt.Sprintf("integrity error (%s): %s", e.Rule, e.Detail)
	}
	return fmt.Sprintf("contrast %q: integrity error (%s): %s", e.Contrast, e.Rule, e.Detail)
}

// ConfigError reports an invalid contrast definition or global
// parameter. These are detected before any computation starts.
type ConfigError struct {
	Contrast string
	Rule     string
	Detail   string
}

func (e *ConfigError) Error() string {
	if e.Contrast == "" {
		return fmt.Sprintf("configuration error (%s): %s", e.Rule, e.Detail)
	}
	return fmt.Sprintf("contrast %q: configuration error (%s): %s", e.Contrast, e.Rule, e.Detail)
}

func integrityErrorf(contrast, rule, format string, args ...interface{}) error {
	return &IntegrityError{Contrast: contrast, Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

func configErrorf(contrast, rule, format string, args ...interface{}) error {
	return &ConfigError{Contrast: contrast, Rule: rule, Detail: fmt.Sprintf(format, args...)}
}
