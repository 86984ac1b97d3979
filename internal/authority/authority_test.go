package authority

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritrace/veritrace/internal/testutils"
)

func TestGenesisRegulatorHoldsEverything(t *testing.T) {
	regulator := testutils.RandomActorID(t)
	set := NewSet(regulator)

	assert.True(t, set.Holds(regulator, CapResolveReports))
	assert.True(t, set.Holds(regulator, CapSetPolicy|CapManagePool|CapManageRoles))
	assert.NoError(t, set.Require(regulator, RoleRegulator))
}

func TestGrantRequiresManageRoles(t *testing.T) {
	regulator := testutils.RandomActorID(t)
	set := NewSet(regulator)
	manufacturer := testutils.RandomActorID(t)
	outsider := testutils.RandomActorID(t)

	assert.ErrorIs(t, set.Grant(outsider, manufacturer, RoleManufacturer), ErrNotAuthorized)

	require.NoError(t, set.Grant(regulator, manufacturer, RoleManufacturer))
	assert.True(t, set.Holds(manufacturer, CapRegisterItems))
	assert.True(t, set.Holds(manufacturer, CapTransferCustody))
	assert.False(t, set.Holds(manufacturer, CapResolveReports))
}

func TestRevoke(t *testing.T) {
	regulator := testutils.RandomActorID(t)
	set := NewSet(regulator)
	lab := testutils.RandomActorID(t)

	require.NoError(t, set.Grant(regulator, lab, RoleLab))
	require.NoError(t, set.Revoke(regulator, lab, CapAttest))
	assert.False(t, set.Holds(lab, CapAttest))

	assert.ErrorIs(t, set.Revoke(regulator, lab, CapAttest), ErrUnknownActor)
}
