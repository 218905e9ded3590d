// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package objcore

import (
	"regexp"
	"strings"
)

var ipRegexp = regexp.MustCompile(`^(([0-9]|[1-9][0-9]|1[0-9]{2}|2[0-4][0-9]|25[0-5])\.){3}([0-9]|[1-9][0-9]|1[0-9]{2}|2[0-4][0-9]|25[0-5])$`)

// ValidateBucketName checks the given bucket name against the S3 naming
// rules.
func ValidateBucketName(name string) error {
	if len(name) == 0 {
		return ErrInvalidArgument.New("no bucket specified")
	}

	if len(name) < 3 || len(name) > 63 {
		return ErrInvalidArgument.New("bucket name must be at least 3 and no more than 63 characters long")
	}

	for _, label := range strings.Split(name, ".") {
		if err := validateBucketLabel(label); err != nil {
			return err
		}
	}

	if ipRegexp.MatchString(name) {
		return ErrInvalidArgument.New("bucket name cannot be formatted as an IP address")
	}

	return nil
}

func validateBucketLabel(label string) error {
	if len(label) == 0 {
		return ErrInvalidArgument.New("bucket label cannot be empty")
	}

	if !isLowerLetter(label[0]) && !isDigit(label[0]) {
		return ErrInvalidArgument.New("bucket label must start with a lowercase letter or number")
	}

	if label[0] == '-' || label[len(label)-1] == '-' {
		return ErrInvalidArgument.New("bucket label cannot start or end with a hyphen")
	}

	for i := 1; i < len(label)-1; i++ {
		if !isLowerLetter(label[i]) && !isDigit(label[i]) && label[i] != '-' {
			return ErrInvalidArgument.New("bucket name must contain only lowercase letters, numbers or hyphens")
		}
	}

	return nil
}

func isLowerLetter(r byte) bool {
	return r >= 'a' && r <= 'z'
}

func isDigit(r byte) bool {
	return r >= '0' && r <= '9'
}

// validateWebsiteRedirect rejects malformed redirect-location values before
// any side effect happens. Valid values are object-relative paths or
// absolute http/https URLs.
func validateWebsiteRedirect(location string) error {
	if location == "" {
		return nil
	}
	if strings.HasPrefix(location, "/") ||
		strings.HasPrefix(location, "http://") ||
		strings.HasPrefix(location, "https://") {
		return nil
	}
	return ErrInvalidArgument.New("website redirect location must start with /, http:// or https://")
}
