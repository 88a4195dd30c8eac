package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"personachat/internal/characters"
)

var ErrUnavailable = errors.New("upstream service unavailable")

type Selection struct {
	SelectedCharacter any    `json:"selected_character"`
	Message           string `json:"message"`
}

type remoteCharacter struct {
	Number      int    `json:"number"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListCharacters fetches the catalog from the service. Any failure is logged
// and answered with the built-in default catalog.
func (c *Client) ListCharacters(ctx context.Context) []characters.Character {
	list, err := c.fetchCharacters(ctx)
	if err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(endpointCharacters, "fallback").Inc()
		c.cfg.Logger.Warn().Err(err).Str("endpoint", endpointCharacters).Msg("character listing failed, serving default catalog")
		return characters.DefaultCatalog()
	}
	c.metrics.UpstreamRequests.WithLabelValues(endpointCharacters, KindSuccess.String()).Inc()
	return list
}

func (c *Client) fetchCharacters(ctx context.Context) ([]characters.Character, error) {
	status, body, err := c.do(ctx, http.MethodGet, endpointCharacters, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &StatusError{Endpoint: endpointCharacters, Code: status, Body: snippet(body)}
	}

	var resp struct {
		Characters []remoteCharacter `json:"characters"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode characters response: %w", err)
	}

	out := make([]characters.Character, 0, len(resp.Characters))
	for _, rc := range resp.Characters {
		id := rc.Number
		out = append(out, characters.Character{
			ID:          id,
			Name:        rc.Name,
			Description: rc.Description,
			Image:       characters.ImageFor(&id),
		})
	}
	return out, nil
}

func (c *Client) SelectCharacter(ctx context.Context, number int) (Selection, error) {
	sel, err := c.selectCharacter(ctx, number)
	result := KindSuccess.String()
	if err != nil {
		result = "error"
	}
	c.metrics.UpstreamRequests.WithLabelValues(endpointSelectCharacter, result).Inc()
	return sel, err
}

func (c *Client) selectCharacter(ctx context.Context, number int) (Selection, error) {
	body, err := json.Marshal(map[string]int{"character_number": number})
	if err != nil {
		return Selection{}, fmt.Errorf("marshal select payload: %w", err)
	}

	status, respBody, err := c.do(ctx, http.MethodPost, endpointSelectCharacter, body)
	if err != nil {
		if status == 0 {
			return Selection{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return Selection{}, err
	}
	if status != http.StatusOK {
		return Selection{}, &StatusError{Endpoint: endpointSelectCharacter, Code: status, Body: snippet(respBody)}
	}

	var sel Selection
	if err := json.Unmarshal(respBody, &sel); err != nil {
		return Selection{}, fmt.Errorf("decode select response: %w", err)
	}
	return sel, nil
}

// NotifySelection tells the service which character a new chat uses. The
// outcome only gets logged.
func (c *Client) NotifySelection(ctx context.Context, id *int) {
	if id == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SelectTimeout)
	defer cancel()

	log := c.cfg.Logger.With().Int("character_number", *id).Logger()
	if _, err := c.SelectCharacter(ctx, *id); err != nil {
		log.Warn().Err(err).Msg("character selection failed, keeping the requested character name")
		return
	}
	log.Info().Msg("character selected on upstream")
}
