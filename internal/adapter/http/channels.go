package http

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/routesphere/internal/channel"
)

// ChannelAdmin is the part of channel.Manager the API exposes.
type ChannelAdmin interface {
	Channels() []channel.Channel
	Channel(tenant, name string) (channel.Channel, error)
	StatusReport() channel.StatusReport
	Reload(ctx context.Context) error
}

// ChannelResponse is the API representation of a channel.
type ChannelResponse struct {
	Name     string `json:"name" doc:"Channel name, unique per tenant"`
	Tenant   string `json:"tenant" doc:"Owning tenant"`
	Protocol string `json:"protocol" doc:"Channel protocol"`
	Mode     string `json:"mode" doc:"SERVER or CLIENT"`
	Status   string `json:"status" doc:"Lifecycle state"`
	Enabled  bool   `json:"enabled" doc:"Whether the channel is started on load"`
	Pipeline string `json:"pipeline,omitempty" doc:"Named pipeline requests are routed through"`
}

func toChannelResponse(ch channel.Channel) ChannelResponse {
	return ChannelResponse{
		Name:     ch.Name(),
		Tenant:   ch.Tenant(),
		Protocol: string(ch.Protocol()),
		Mode:     string(ch.Mode()),
		Status:   string(ch.Status()),
		Enabled:  ch.Enabled(),
		Pipeline: ch.Config().PipelineName,
	}
}

type ListChannelsInput struct {
	Tenant string `query:"tenant" required:"false" doc:"Only channels of this tenant"`
}

type ChannelListOutput struct {
	Body []ChannelResponse
}

type ChannelInput struct {
	Tenant string `path:"tenant" doc:"Owning tenant"`
	Name   string `path:"name" doc:"Channel name"`
}

type ChannelOutput struct {
	Body ChannelResponse
}

type StatusReportOutput struct {
	Body channel.StatusReport
}

// RegisterChannels adds the channel status and reload routes.
func RegisterChannels(api huma.API, channels ChannelAdmin) {
	huma.Register(api, huma.Operation{
		OperationID: "list-channels",
		Method:      http.MethodGet,
		Path:        "/api/v1/channels",
		Summary:     "List channels",
		Tags:        []string{"Channels"},
	}, func(_ context.Context, input *ListChannelsInput) (*ChannelListOutput, error) {
		out := []ChannelResponse{}
		for _, ch := range channels.Channels() {
			if input.Tenant != "" && ch.Tenant() != input.Tenant {
				continue
			}
			out = append(out, toChannelResponse(ch))
		}
		return &ChannelListOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "channel-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/channels/status",
		Summary:     "Aggregate channel state",
		Tags:        []string{"Channels"},
	}, func(_ context.Context, _ *struct{}) (*StatusReportOutput, error) {
		return &StatusReportOutput{Body: channels.StatusReport()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-channel",
		Method:      http.MethodGet,
		Path:        "/api/v1/channels/{tenant}/{name}",
		Summary:     "Get one channel",
		Tags:        []string{"Channels"},
	}, func(_ context.Context, input *ChannelInput) (*ChannelOutput, error) {
		ch, err := channels.Channel(input.Tenant, input.Name)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &ChannelOutput{Body: toChannelResponse(ch)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reload-channels",
		Method:      http.MethodPost,
		Path:        "/api/v1/channels/reload",
		Summary:     "Stop every channel and start them again from configuration",
		Tags:        []string{"Channels"},
	}, func(ctx context.Context, _ *struct{}) (*StatusReportOutput, error) {
		if err := channels.Reload(ctx); err != nil {
			return nil, huma.Error500InternalServerError("reload failed", err)
		}
		return &StatusReportOutput{Body: channels.StatusReport()}, nil
	})
}
