package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope(t *testing.T) {
	data, err := Encode(MsgTypeSubmitAnswer, SubmitAnswerPayload{Round: 2, Answer: "elma", ElapsedTime: 4})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"submit_answer","payload":{"round":2,"answer":"elma","elapsedTime":4}}`, string(data))

	env, err := Decode(data)
	require.NoError(t, err)
	var p SubmitAnswerPayload
	require.NoError(t, env.Bind(&p))
	assert.Equal(t, 2, p.Round)
	assert.Equal(t, "elma", p.Answer)
}

func TestDecode_Rejects(t *testing.T) {
	_, err := Decode([]byte(`{"payload":{}}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)

	env, err := Decode([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Error(t, env.Bind(&SubmitAnswerPayload{}))
}
