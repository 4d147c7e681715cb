package recordsessions

import (
	"testing"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
)

func TestSelectChannel(t *testing.T) {
	id := func(v snowflake.ID) *snowflake.ID { return &v }

	tests := []struct {
		name      string
		counts    []ChannelCount
		afk       *snowflake.ID
		incumbent *snowflake.ID
		want      snowflake.ID
		wantOK    bool
	}{
		{
			name:      "tie keeps incumbent",
			counts:    []ChannelCount{{ChannelID: 1, NonBot: 3}, {ChannelID: 2, NonBot: 3}},
			incumbent: id(2),
			want:      2,
			wantOK:    true,
		},
		{
			name:      "strictly greater wins",
			counts:    []ChannelCount{{ChannelID: 1, NonBot: 4}, {ChannelID: 2, NonBot: 3}},
			incumbent: id(2),
			want:      1,
			wantOK:    true,
		},
		{
			name:   "tie without incumbent takes lowest id",
			counts: []ChannelCount{{ChannelID: 9, NonBot: 2}, {ChannelID: 5, NonBot: 2}},
			want:   5,
			wantOK: true,
		},
		{
			name:      "incumbent not among leaders",
			counts:    []ChannelCount{{ChannelID: 9, NonBot: 2}, {ChannelID: 5, NonBot: 2}, {ChannelID: 1, NonBot: 1}},
			incumbent: id(1),
			want:      5,
			wantOK:    true,
		},
		{
			name:   "afk channel excluded",
			counts: []ChannelCount{{ChannelID: 1, NonBot: 5}, {ChannelID: 2, NonBot: 1}},
			afk:    id(1),
			want:   2,
			wantOK: true,
		},
		{
			name:   "only afk populated",
			counts: []ChannelCount{{ChannelID: 1, NonBot: 5}, {ChannelID: 2, NonBot: 0}},
			afk:    id(1),
			wantOK: false,
		},
		{
			name:   "nobody anywhere",
			counts: []ChannelCount{{ChannelID: 1}, {ChannelID: 2}},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectChannel(tt.counts, tt.afk, tt.incumbent)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestChannelCountsIgnoreBots(t *testing.T) {
	d := newFakeDirectory(1, 2)
	d.connect(1, Member{UserID: 10})
	d.connect(1, Member{UserID: 11, Bot: true})
	d.connect(2, Member{UserID: 12, Bot: true})

	assert.Equal(t, []ChannelCount{
		{ChannelID: 1, NonBot: 1},
		{ChannelID: 2, NonBot: 0},
	}, channelCounts(d, 7))
}
