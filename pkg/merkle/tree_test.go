package merkle

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkLeaves(n int) []Leaf {
	leaves := make([]Leaf, n)
	for i := range leaves {
		leaves[i] = Leaf{
			CheckpointID: fmt.Sprintf("ic-%08d", i),
			Hash:         LeafHash(fmt.Sprintf("ic-%08d", i), "clear", "thinkhash", "chainhash", "2026-01-01T00:00:00Z"),
		}
	}
	return leaves
}

func TestBuild_EmptyTree(t *testing.T) {
	tree := Build(nil)
	assert.Equal(t, "", tree.Root)
	assert.Equal(t, 0, tree.Depth())

	_, err := tree.Prove(0)
	assert.ErrorIs(t, err, ErrEmptyTree)
}

func TestBuild_SingleLeaf(t *testing.T) {
	leaves := mkLeaves(1)
	tree := Build(leaves)

	assert.Equal(t, leaves[0].Hash, tree.Root)
	assert.Equal(t, 0, tree.Depth())

	proof, err := tree.Prove(0)
	require.NoError(t, err)
	assert.Empty(t, proof.ProofPath)
	assert.True(t, Verify(proof, tree.Root))
}

func TestBuild_OddFringeThreeLeaves(t *testing.T) {
	leaves := mkLeaves(3)
	tree := Build(leaves)

	for i := range leaves {
		proof, err := tree.Prove(i)
		require.NoError(t, err)
		assert.True(t, Verify(proof, tree.Root), "leaf %d", i)
	}
}

func TestNodeHash_HashesHexStringsNotBytes(t *testing.T) {
	// A regression guard for the documented compatibility decision:
	// node hashing must concatenate hex *strings*, not decoded bytes.
	left := LeafHash("ic-a", "clear", "h1", "c1", "t1")
	right := LeafHash("ic-b", "clear", "h2", "c2", "t2")

	got := nodeHash(left, right)
	want := sha256Hex([]byte(left + right))
	assert.Equal(t, want, got)
}

func TestMerkleProofs_RandomLeafCounts(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("every leaf in a random-sized tree verifies", prop.ForAll(
		func(n int) bool {
			leaves := mkLeaves(n)
			tree := Build(leaves)
			for i := range leaves {
				proof, err := tree.Prove(i)
				if err != nil {
					return false
				}
				if !Verify(proof, tree.Root) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 256),
	))

	properties.TestingRun(t)
}
