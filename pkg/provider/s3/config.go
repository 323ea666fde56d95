// Package s3 publishes collected results to AWS S3 or an S3-compatible
// store.
package s3

// DefaultAWSRegion applies when neither the config, the environment nor
// the shared profile names a region and no custom endpoint is set.
const DefaultAWSRegion = "us-east-1"

// Config describes the destination bucket. Credentials come from the SDK
// default chain (environment, shared files, instance role) unless a static
// key pair is given.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string // non-AWS stores such as MinIO
	Profile  string

	AccessKeyID     string
	SecretAccessKey string

	ForcePathStyle bool
}

// Validate rejects a missing bucket and half-specified static credentials.
func (c *Config) Validate() error {
	switch {
	case c.Bucket == "":
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	case (c.AccessKeyID == "") != (c.SecretAccessKey == ""):
		return &ConfigError{Field: "AccessKeyID/SecretAccessKey", Message: "access key id and secret must be set together"}
	}
	return nil
}

// ConfigError names the offending Config field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
