package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tqchen/yarn-ec2/internal/catalog"
	"github.com/tqchen/yarn-ec2/internal/controller"
	"github.com/tqchen/yarn-ec2/pkg/types"
	"golang.org/x/time/rate"
)

const (
	productDescription = "Linux/UNIX"

	// ebsDeviceName is where the optional extra EBS volume is attached
	ebsDeviceName = "/dev/sdv"
)

// Config holds gateway configuration
type Config struct {
	Cluster       string
	KeyPair       string
	EBSVolumeSize int32
	RateLimit     float64
	RateBurst     int

	// PriceClasses limits the fetched spot price history to these instance classes; all
	// classes when empty
	PriceClasses []string
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() *Config {
	return &Config{
		RateLimit: 5,
		RateBurst: 10,
	}
}

// Catalog resolves instance class specs, images and list prices
type Catalog interface {
	Get(name string) (*catalog.InstanceSpec, error)
	AMI(name string) (string, error)
	ListPrice(name string) (float64, error)
}

// Renderer produces the bootstrap payload of a worker
type Renderer interface {
	Render(masterAddr, instanceClass string) ([]byte, error)
}

// EC2Gateway provisions workers through the EC2 API
type EC2Gateway struct {
	config  *Config
	client  EC2API
	catalog Catalog
	limiter *rate.Limiter
	log     *logrus.Entry

	mu         sync.RWMutex
	groupID    string
	renderer   Renderer
	masterAddr string
}

var _ controller.Gateway = (*EC2Gateway)(nil)

// New creates a gateway over an EC2 client
func New(config *Config, client EC2API, cat Catalog, log *logrus.Entry) *EC2Gateway {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &EC2Gateway{
		config:  config,
		client:  client,
		catalog: cat,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
		log:     log.WithField("component", "gateway"),
	}
}

// LookupMaster finds the single live instance in the <cluster>-master security group
func (g *EC2Gateway) LookupMaster(ctx context.Context) (*types.Master, error) {
	group := g.config.Cluster + "-master"

	var masters []types.Master
	paginator := ec2.NewDescribeInstancesPaginator(g.client, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("instance.group-name"), Values: []string{group}},
			{Name: aws.String("instance-state-name"), Values: []string{"pending", "running"}},
		},
	})
	for paginator.HasMorePages() {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe instances in %s: %w", group, err)
		}

		for _, res := range page.Reservations {
			for _, inst := range res.Instances {
				m := types.Master{
					InstanceID: aws.ToString(inst.InstanceId),
					PrivateDNS: aws.ToString(inst.PrivateDnsName),
					PrivateIP:  aws.ToString(inst.PrivateIpAddress),
				}
				if inst.Placement != nil {
					m.Zone = aws.ToString(inst.Placement.AvailabilityZone)
				}
				masters = append(masters, m)
			}
		}
	}

	switch len(masters) {
	case 0:
		return nil, fmt.Errorf("lookup master in %s: %w", group, controller.ErrNoMaster)
	case 1:
		g.log.WithFields(logrus.Fields{
			"instance_id": masters[0].InstanceID,
			"address":     masters[0].Address(),
			"zone":        masters[0].Zone,
		}).Info("Found master")
		return &masters[0], nil
	default:
		return nil, fmt.Errorf("lookup master in %s: %w (%d)", group, ErrMultipleMasters, len(masters))
	}
}

// LookupWorkerGroup finds the <cluster>-slave security group workers are launched into. The
// group is never created here.
func (g *EC2Gateway) LookupWorkerGroup(ctx context.Context) (string, error) {
	group := g.config.Cluster + "-slave"

	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}

	out, err := g.client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("group-name"), Values: []string{group}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("describe security group %s: %w", group, err)
	}
	if len(out.SecurityGroups) == 0 {
		return "", fmt.Errorf("lookup %s: %w", group, ErrNoWorkerGroup)
	}

	id := aws.ToString(out.SecurityGroups[0].GroupId)

	g.mu.Lock()
	g.groupID = id
	g.mu.Unlock()

	return id, nil
}

// SetBootstrap sets the renderer and master address used for worker user data
func (g *EC2Gateway) SetBootstrap(renderer Renderer, masterAddr string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.renderer = renderer
	g.masterAddr = masterAddr
}

// ListPrice returns the on-demand price from the instance catalog
func (g *EC2Gateway) ListPrice(_ context.Context, instanceClass string) (float64, error) {
	return g.catalog.ListPrice(instanceClass)
}

// SpotPriceHistory returns the Linux/UNIX spot prices published during the last window
func (g *EC2Gateway) SpotPriceHistory(ctx context.Context, window time.Duration) ([]types.PricePoint, error) {
	start := time.Now().Add(-window)
	input := &ec2.DescribeSpotPriceHistoryInput{
		StartTime:           aws.Time(start),
		ProductDescriptions: []string{productDescription},
	}
	for _, class := range g.config.PriceClasses {
		input.InstanceTypes = append(input.InstanceTypes, ec2types.InstanceType(class))
	}

	var points []types.PricePoint
	paginator := ec2.NewDescribeSpotPriceHistoryPaginator(g.client, input)
	for paginator.HasMorePages() {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe spot price history: %w", err)
		}

		for _, sp := range page.SpotPriceHistory {
			price, err := strconv.ParseFloat(aws.ToString(sp.SpotPrice), 64)
			if err != nil {
				g.log.WithError(err).WithField("price", aws.ToString(sp.SpotPrice)).Warn("Skipping unparsable spot price")
				continue
			}

			points = append(points, types.PricePoint{
				InstanceClass:    string(sp.InstanceType),
				AvailabilityZone: aws.ToString(sp.AvailabilityZone),
				Price:            price,
				ObservedAt:       aws.ToTime(sp.Timestamp),
			})
		}
	}

	return points, nil
}

// SubmitSpotBid places count one-time spot requests at price
func (g *EC2Gateway) SubmitSpotBid(ctx context.Context, instanceClass, zone string, price float64, count int) ([]string, error) {
	spec, err := g.launchSpec(instanceClass)
	if err != nil {
		return nil, err
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	out, err := g.client.RequestSpotInstances(ctx, &ec2.RequestSpotInstancesInput{
		SpotPrice:     aws.String(fmt.Sprintf("%.4f", price)),
		InstanceCount: aws.Int32(int32(count)),
		Type:          ec2types.SpotInstanceTypeOneTime,
		ClientToken:   aws.String(uuid.New().String()),
		LaunchSpecification: &ec2types.RequestSpotLaunchSpecification{
			ImageId:             aws.String(spec.ami),
			InstanceType:        ec2types.InstanceType(instanceClass),
			KeyName:             aws.String(g.config.KeyPair),
			SecurityGroupIds:    []string{spec.groupID},
			Placement:           &ec2types.SpotPlacement{AvailabilityZone: aws.String(zone)},
			UserData:            aws.String(spec.userData),
			BlockDeviceMappings: spec.devices,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("request spot instances: %w", err)
	}

	ids := make([]string, 0, len(out.SpotInstanceRequests))
	for _, req := range out.SpotInstanceRequests {
		ids = append(ids, aws.ToString(req.SpotInstanceRequestId))
	}
	return ids, nil
}

// LaunchOnDemand runs count on-demand instances
func (g *EC2Gateway) LaunchOnDemand(ctx context.Context, instanceClass, zone string, count int) ([]string, error) {
	spec, err := g.launchSpec(instanceClass)
	if err != nil {
		return nil, err
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	out, err := g.client.RunInstances(ctx, &ec2.RunInstancesInput{
		ImageId:             aws.String(spec.ami),
		InstanceType:        ec2types.InstanceType(instanceClass),
		KeyName:             aws.String(g.config.KeyPair),
		SecurityGroupIds:    []string{spec.groupID},
		MinCount:            aws.Int32(int32(count)),
		MaxCount:            aws.Int32(int32(count)),
		Placement:           &ec2types.Placement{AvailabilityZone: aws.String(zone)},
		UserData:            aws.String(spec.userData),
		BlockDeviceMappings: spec.devices,
		ClientToken:         aws.String(uuid.New().String()),
	})
	if err != nil {
		return nil, fmt.Errorf("run instances: %w", err)
	}

	ids := make([]string, 0, len(out.Instances))
	for _, inst := range out.Instances {
		ids = append(ids, aws.ToString(inst.InstanceId))
	}
	return ids, nil
}

// RequestStates returns the state of spot requests or on-demand instances
func (g *EC2Gateway) RequestStates(ctx context.Context, kind types.RequestKind, ids []string) (map[string]types.RequestState, error) {
	if len(ids) == 0 {
		return map[string]types.RequestState{}, nil
	}

	if kind == types.RequestKindSpot {
		return g.spotStates(ctx, ids)
	}
	return g.instanceStates(ctx, ids)
}

// spotStates and instanceStates select by id filter, which leaves unknown ids out of the result.
// Naming the ids directly makes EC2 fail the whole call on a single purged or not yet visible id.
func (g *EC2Gateway) spotStates(ctx context.Context, ids []string) (map[string]types.RequestState, error) {
	states := make(map[string]types.RequestState, len(ids))

	paginator := ec2.NewDescribeSpotInstanceRequestsPaginator(g.client, &ec2.DescribeSpotInstanceRequestsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("spot-instance-request-id"), Values: ids},
		},
	})
	for paginator.HasMorePages() {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe spot instance requests: %w", err)
		}

		for _, req := range page.SpotInstanceRequests {
			states[aws.ToString(req.SpotInstanceRequestId)] = spotState(req.State)
		}
	}

	g.logMissing(types.RequestKindSpot, ids, states)
	return states, nil
}

func (g *EC2Gateway) instanceStates(ctx context.Context, ids []string) (map[string]types.RequestState, error) {
	states := make(map[string]types.RequestState, len(ids))

	paginator := ec2.NewDescribeInstancesPaginator(g.client, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("instance-id"), Values: ids},
		},
	})
	for paginator.HasMorePages() {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}

		for _, res := range page.Reservations {
			for _, inst := range res.Instances {
				if inst.State == nil {
					continue
				}
				states[aws.ToString(inst.InstanceId)] = types.RequestState(inst.State.Name)
			}
		}
	}

	g.logMissing(types.RequestKindOnDemand, ids, states)
	return states, nil
}

func (g *EC2Gateway) logMissing(kind types.RequestKind, ids []string, states map[string]types.RequestState) {
	missing := lo.Filter(ids, func(id string, _ int) bool {
		_, ok := states[id]
		return !ok
	})
	if len(missing) > 0 {
		g.log.WithFields(logrus.Fields{
			"kind": kind,
			"ids":  missing,
		}).Debug("Requests not reported by EC2")
	}
}

// spotState normalises the EC2 spellings of spot request states
func spotState(state ec2types.SpotInstanceState) types.RequestState {
	if state == ec2types.SpotInstanceStateCancelled {
		return types.RequestStateCanceled
	}
	return types.RequestState(state)
}

type launchParams struct {
	ami      string
	groupID  string
	userData string
	devices  []ec2types.BlockDeviceMapping
}

func (g *EC2Gateway) launchSpec(instanceClass string) (*launchParams, error) {
	g.mu.RLock()
	groupID, renderer, masterAddr := g.groupID, g.renderer, g.masterAddr
	g.mu.RUnlock()

	if groupID == "" || renderer == nil {
		return nil, ErrNotPrepared
	}

	spec, err := g.catalog.Get(instanceClass)
	if err != nil {
		return nil, fmt.Errorf("build launch spec: %w", err)
	}

	ami, err := g.catalog.AMI(instanceClass)
	if err != nil {
		return nil, fmt.Errorf("build launch spec: %w", err)
	}

	payload, err := renderer.Render(masterAddr, instanceClass)
	if err != nil {
		return nil, fmt.Errorf("build launch spec: %w", err)
	}

	return &launchParams{
		ami:      ami,
		groupID:  groupID,
		userData: base64.StdEncoding.EncodeToString(payload),
		devices:  g.blockDevices(spec),
	}, nil
}

func (g *EC2Gateway) blockDevices(spec *catalog.InstanceSpec) []ec2types.BlockDeviceMapping {
	var mappings []ec2types.BlockDeviceMapping

	if g.config.EBSVolumeSize > 0 {
		mappings = append(mappings, ec2types.BlockDeviceMapping{
			DeviceName: aws.String(ebsDeviceName),
			Ebs: &ec2types.EbsBlockDevice{
				VolumeSize:          aws.Int32(g.config.EBSVolumeSize),
				DeleteOnTermination: aws.Bool(true),
			},
		})
	}

	for _, dev := range spec.BlockDevices() {
		mappings = append(mappings, ec2types.BlockDeviceMapping{
			DeviceName:  aws.String(dev.DeviceName),
			VirtualName: aws.String(dev.VirtualName),
		})
	}

	return mappings
}
