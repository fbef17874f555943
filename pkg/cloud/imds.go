package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

// InstanceIdentity is what the instance metadata service reports about the
// instance the controller runs on
type InstanceIdentity struct {
	InstanceID string
	Region     string
	PrivateIP  string
}

// LocalIdentity queries the instance metadata service. It only succeeds on
// an EC2 instance.
func LocalIdentity(ctx context.Context) (InstanceIdentity, error) {
	cfg, err := LoadAWSConfig(ctx, "")
	if err != nil {
		return InstanceIdentity{}, err
	}

	client := imds.NewFromConfig(cfg)
	doc, err := client.GetInstanceIdentityDocument(ctx, &imds.GetInstanceIdentityDocumentInput{})
	if err != nil {
		return InstanceIdentity{}, fmt.Errorf("failed to read instance identity document: %w", err)
	}

	return InstanceIdentity{
		InstanceID: doc.InstanceID,
		Region:     doc.Region,
		PrivateIP:  doc.PrivateIP,
	}, nil
}
